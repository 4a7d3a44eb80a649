package js8

import (
	"context"
	"sync"
)

// FrequencyInfo is the rig frequency report. All values are in Hz.
type FrequencyInfo struct {
	Freq   int64 `json:"frequency"`
	Dial   int64 `json:"dial"`
	Offset int64 `json:"offset"`
}

// CallActivityEntry is one row of the call activity table, keyed by callsign
type CallActivityEntry struct {
	SNR  int64  `json:"snr"`
	Grid string `json:"grid"`
	UTC  int64  `json:"utc"`
}

// BandActivityEntry is one row of the band activity table, keyed by offset
type BandActivityEntry struct {
	Freq   int64  `json:"frequency"`
	Dial   int64  `json:"dial"`
	Offset int64  `json:"offset"`
	Text   string `json:"text"`
	SNR    int64  `json:"snr"`
	UTC    int64  `json:"utc"`
}

// StationInfo aggregates station identity and rig frequency
type StationInfo struct {
	Callsign  string `json:"callsign"`
	Grid      string `json:"grid"`
	Frequency int64  `json:"frequency"`
	Dial      int64  `json:"dial"`
	Offset    int64  `json:"offset"`
}

// StationCallsign returns the configured station callsign, or "" if the
// controller does not answer
func (c *Client) StationCallsign(ctx context.Context) (string, error) {
	resp, err := c.Send(ctx, TypeStationGetCallsign, "", nil)
	if err != nil {
		return "", err
	}
	return valueOf(resp), nil
}

// StationGrid returns the station grid square
func (c *Client) StationGrid(ctx context.Context) (string, error) {
	resp, err := c.Send(ctx, TypeStationGetGrid, "", nil)
	if err != nil {
		return "", err
	}
	return valueOf(resp), nil
}

// Frequency returns working frequency, dial frequency and offset
func (c *Client) Frequency(ctx context.Context) (FrequencyInfo, error) {
	resp, err := c.Send(ctx, TypeRigGetFreq, "", nil)
	if err != nil {
		return FrequencyInfo{}, err
	}
	return ParseFrequency(resp), nil
}

// CallActivity returns the call activity table
func (c *Client) CallActivity(ctx context.Context) (map[string]CallActivityEntry, error) {
	resp, err := c.Send(ctx, TypeRxGetCallActivity, "", nil)
	if err != nil {
		return map[string]CallActivityEntry{}, err
	}
	return ParseCallActivity(resp), nil
}

// BandActivity returns the band activity table
func (c *Client) BandActivity(ctx context.Context) (map[string]BandActivityEntry, error) {
	resp, err := c.Send(ctx, TypeRxGetBandActivity, "", nil)
	if err != nil {
		return map[string]BandActivityEntry{}, err
	}
	return ParseBandActivity(resp), nil
}

// SendMessage queues text for transmission
func (c *Client) SendMessage(ctx context.Context, text string) error {
	_, err := c.Send(ctx, TypeTxSendMessage, text, nil)
	return err
}

// SetTxText replaces the contents of the transmit text box
func (c *Client) SetTxText(ctx context.Context, text string) error {
	_, err := c.Send(ctx, TypeTxSetText, text, nil)
	return err
}

// RxText returns the contents of the receive text box
func (c *Client) RxText(ctx context.Context) (string, error) {
	resp, err := c.Send(ctx, TypeRxGetText, "", nil)
	if err != nil {
		return "", err
	}
	return valueOf(resp), nil
}

// TxText returns the contents of the transmit text box
func (c *Client) TxText(ctx context.Context) (string, error) {
	resp, err := c.Send(ctx, TypeTxGetText, "", nil)
	if err != nil {
		return "", err
	}
	return valueOf(resp), nil
}

// Ping sends a keepalive. JS8Call does not answer it.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Send(ctx, TypePing, "", nil)
	return err
}

// StationInfo queries callsign, grid and frequency concurrently
func (c *Client) StationInfo(ctx context.Context) (StationInfo, error) {
	var (
		wg       sync.WaitGroup
		callsign string
		grid     string
		freq     FrequencyInfo
		errs     [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		callsign, errs[0] = c.StationCallsign(ctx)
	}()
	go func() {
		defer wg.Done()
		grid, errs[1] = c.StationGrid(ctx)
	}()
	go func() {
		defer wg.Done()
		freq, errs[2] = c.Frequency(ctx)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return StationInfo{}, err
		}
	}

	return StationInfo{
		Callsign:  callsign,
		Grid:      grid,
		Frequency: freq.Freq,
		Dial:      freq.Dial,
		Offset:    freq.Offset,
	}, nil
}

func valueOf(resp *Message) string {
	if resp == nil {
		return ""
	}
	return resp.Value
}

// ParseFrequency extracts FREQ, DIAL and OFFSET from a RIG.FREQ message
func ParseFrequency(msg *Message) FrequencyInfo {
	if msg == nil {
		return FrequencyInfo{}
	}
	return FrequencyInfo{
		Freq:   msg.ParamInt("FREQ"),
		Dial:   msg.ParamInt("DIAL"),
		Offset: msg.ParamInt("OFFSET"),
	}
}

// ParseCallActivity converts RX.CALL_ACTIVITY params into typed rows.
// Rows that are not objects are skipped.
func ParseCallActivity(msg *Message) map[string]CallActivityEntry {
	table := make(map[string]CallActivityEntry)
	for callsign, raw := range msg.Table() {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		r := &Message{Params: row}
		table[callsign] = CallActivityEntry{
			SNR:  r.ParamInt("SNR"),
			Grid: r.ParamString("GRID"),
			UTC:  r.ParamInt("UTC"),
		}
	}
	return table
}

// ParseBandActivity converts RX.BAND_ACTIVITY params into typed rows
func ParseBandActivity(msg *Message) map[string]BandActivityEntry {
	table := make(map[string]BandActivityEntry)
	for offset, raw := range msg.Table() {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		r := &Message{Params: row}
		table[offset] = BandActivityEntry{
			Freq:   r.ParamInt("FREQ"),
			Dial:   r.ParamInt("DIAL"),
			Offset: r.ParamInt("OFFSET"),
			Text:   r.ParamString("TEXT"),
			SNR:    r.ParamInt("SNR"),
			UTC:    r.ParamInt("UTC"),
		}
	}
	return table
}
