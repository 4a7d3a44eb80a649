package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/js8chat/internal/database"
	"github.com/dbehnke/js8chat/internal/js8"
)

// Events published to browser clients
const (
	EventMessageNew          = "message:new"
	EventConversationUpdated = "conversation:updated"
	EventConnectionStatus    = "connection:status"
	EventStationInfo         = "station:info"
	EventCallActivity        = "activity:call"
	EventBandActivity        = "activity:band"
)

const (
	// DefaultPollInterval is how often station info and call activity are refreshed
	DefaultPollInterval = 10 * time.Second

	// DefaultMessageLimit caps history queries
	DefaultMessageLimit = 100

	// unknownCallsign is recorded as the sender when the station callsign cannot be read
	unknownCallsign = "UNKNOWN"
)

// ErrInvalidMessage is returned for an outgoing message missing its recipient or text
var ErrInvalidMessage = errors.New("recipient and text are required")

// Radio is the part of js8.Client the service drives
type Radio interface {
	Connected() bool
	Subscribe(t js8.EventType, handler js8.Handler) func()
	StationCallsign(ctx context.Context) (string, error)
	StationInfo(ctx context.Context) (js8.StationInfo, error)
	CallActivity(ctx context.Context) (map[string]js8.CallActivityEntry, error)
	SendMessage(ctx context.Context, text string) error
}

// Publisher fans events out to connected browsers
type Publisher interface {
	Publish(eventType string, data any)
}

// ConnectionStatus is the payload of connection:status
type ConnectionStatus struct {
	Connected bool `json:"connected"`
}

// ConversationUpdate is the payload of conversation:updated
type ConversationUpdate struct {
	Callsign    string `json:"callsign"`
	UnreadCount int    `json:"unreadCount"`
}

// StationStatus is station info plus the controller link state
type StationStatus struct {
	js8.StationInfo
	Connected bool `json:"connected"`
}

// Config holds service settings
type Config struct {
	PollInterval time.Duration
	MessageLimit int
	Debug        bool
}

// Service turns controller traffic into stored conversations and pushes
// updates to subscribers
type Service struct {
	radio         Radio
	messages      *database.MessageRepository
	conversations *database.ConversationRepository
	publisher     Publisher
	logger        *log.Logger
	config        Config

	mu         sync.RWMutex
	callsign   string
	refreshing atomic.Bool

	unsubscribe []func()
}

// NewService creates a chat service. Call Start to begin handling events.
func NewService(radio Radio, db *database.DB, publisher Publisher, logger *log.Logger, config Config) *Service {
	if config.PollInterval < 0 {
		config.PollInterval = 0
	}
	if config.MessageLimit <= 0 {
		config.MessageLimit = DefaultMessageLimit
	}

	return &Service{
		radio:         radio,
		messages:      database.NewMessageRepository(db.GetDB()),
		conversations: database.NewConversationRepository(db.GetDB()),
		publisher:     publisher,
		logger:        logger,
		config:        config,
	}
}

// Start subscribes to controller events
func (s *Service) Start() {
	s.unsubscribe = append(s.unsubscribe,
		s.radio.Subscribe(js8.EventIncomingText, s.handleIncomingText),
		s.radio.Subscribe(js8.EventCallActivity, s.handleCallActivity),
		s.radio.Subscribe(js8.EventBandActivity, s.handleBandActivity),
		s.radio.Subscribe(js8.EventStationCallsign, s.handleStationCallsign),
		s.radio.Subscribe(js8.EventConnected, s.handleConnected),
		s.radio.Subscribe(js8.EventDisconnected, s.handleDisconnected),
	)
}

// Stop removes the event subscriptions
func (s *Service) Stop() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil
}

// Run polls the station until ctx is cancelled. A zero poll interval returns immediately.
func (s *Service) Run(ctx context.Context) {
	if s.config.PollInterval == 0 {
		return
	}
	if s.logger != nil {
		s.logger.Printf("Station poller starting (interval: %v)", s.config.PollInterval)
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.Printf("Station poller stopping")
			}
			return
		case <-ticker.C:
			if err := s.PollNow(ctx); err != nil && s.logger != nil {
				s.logger.Printf("Error fetching periodic updates: %v", err)
			}
		}
	}
}

// PollNow publishes station info and call activity once. It does nothing
// while the controller is unreachable.
func (s *Service) PollNow(ctx context.Context) error {
	if !s.radio.Connected() {
		return nil
	}

	info, err := s.radio.StationInfo(ctx)
	if err != nil {
		return err
	}
	if info.Callsign != "" {
		s.setCallsign(info.Callsign)
	}

	activity, err := s.radio.CallActivity(ctx)
	if err != nil {
		return err
	}

	s.publish(EventStationInfo, info)
	s.publish(EventCallActivity, activity)
	return nil
}

// Callsign returns the last known station callsign, or "" before the first lookup
func (s *Service) Callsign() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callsign
}

func (s *Service) setCallsign(callsign string) {
	callsign = database.NormalizeCallsign(callsign)
	if callsign == "" {
		return
	}
	s.mu.Lock()
	s.callsign = callsign
	s.mu.Unlock()
}

// stationCallsign returns the cached callsign, asking the controller on a
// miss. Not for use from event handlers.
func (s *Service) stationCallsign(ctx context.Context) string {
	if callsign := s.Callsign(); callsign != "" {
		return callsign
	}
	callsign, err := s.radio.StationCallsign(ctx)
	if err != nil {
		return ""
	}
	s.setCallsign(callsign)
	return s.Callsign()
}

// refreshCallsign fills the callsign cache off the delivery goroutine. At
// most one lookup runs at a time.
func (s *Service) refreshCallsign() {
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.refreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), js8.DefaultRequestTimeout)
		defer cancel()
		callsign, err := s.radio.StationCallsign(ctx)
		if err != nil {
			if s.config.Debug && s.logger != nil {
				s.logger.Printf("Callsign lookup failed: %v", err)
			}
			return
		}
		s.setCallsign(callsign)
	}()
}

// Connected reports the controller link state
func (s *Service) Connected() bool {
	return s.radio.Connected()
}

// Station queries callsign, grid and frequency
func (s *Service) Station(ctx context.Context) (StationStatus, error) {
	if !s.radio.Connected() {
		return StationStatus{}, js8.ErrNotConnected
	}
	info, err := s.radio.StationInfo(ctx)
	if err != nil {
		return StationStatus{}, err
	}
	if info.Callsign != "" {
		s.setCallsign(info.Callsign)
	}
	return StationStatus{StationInfo: info, Connected: s.radio.Connected()}, nil
}

// Conversations lists every conversation, most recent first
func (s *Service) Conversations() ([]database.Conversation, error) {
	return s.conversations.List()
}

// Messages returns recent history for one conversation, oldest first. A
// non-positive or oversized limit uses the configured maximum.
func (s *Service) Messages(conversation string, limit int) ([]database.Message, error) {
	if limit <= 0 || limit > s.config.MessageLimit {
		limit = s.config.MessageLimit
	}
	return s.messages.ListByConversation(database.NormalizeCallsign(conversation), limit)
}

// StoreMessage records a message supplied by a client without transmitting it
func (s *Service) StoreMessage(msg *database.Message) error {
	msg.Conversation = database.NormalizeCallsign(msg.Conversation)
	return s.messages.Add(msg)
}

// SendMessage transmits text to a callsign or group and records it as outgoing
func (s *Service) SendMessage(ctx context.Context, to, text string) (*database.Message, error) {
	to = database.NormalizeCallsign(to)
	text = strings.TrimSpace(text)
	if to == "" || text == "" {
		return nil, ErrInvalidMessage
	}

	if err := s.radio.SendMessage(ctx, strings.ToUpper(to)+" "+text); err != nil {
		return nil, fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	from := s.stationCallsign(ctx)
	if from == "" {
		from = unknownCallsign
	}

	msg := &database.Message{
		Conversation: to,
		From:         from,
		To:           to,
		Text:         text,
		Timestamp:    time.Now().UnixMilli(),
		Direction:    database.DirectionOutgoing,
		IsRead:       true,
	}
	if err := s.messages.Add(msg); err != nil {
		return nil, err
	}
	if err := s.conversations.Touch(to, text, msg.Timestamp, nil, ""); err != nil {
		return nil, err
	}

	s.publish(EventMessageNew, msg)
	return msg, nil
}

// MarkRead clears the unread state of a conversation
func (s *Service) MarkRead(callsign string) error {
	callsign = database.NormalizeCallsign(callsign)
	if callsign == "" {
		return ErrInvalidMessage
	}

	if _, err := s.messages.MarkConversationRead(callsign); err != nil {
		return fmt.Errorf("failed to mark %s read: %w", callsign, err)
	}
	if err := s.conversations.ResetUnread(callsign); err != nil {
		return fmt.Errorf("failed to reset unread for %s: %w", callsign, err)
	}

	s.publish(EventConversationUpdated, ConversationUpdate{Callsign: callsign})
	return nil
}

// handleIncomingText stores "FROM: text" lines. Text that mentions our
// callsign opens a conversation with the sender; the rest goes to @allcall.
func (s *Service) handleIncomingText(ev js8.Event) error {
	value := strings.TrimSpace(ev.Message.Value)
	if value == "" {
		return nil
	}
	from, text, ok := strings.Cut(value, ":")
	if !ok {
		return nil
	}
	from = database.NormalizeCallsign(from)
	text = strings.TrimSpace(text)
	if from == "" {
		return nil
	}

	// Handlers run on the delivery goroutine and must never wait on a request
	myCallsign := s.Callsign()
	if myCallsign == "" {
		s.refreshCallsign()
	}

	conversation := database.AllCall
	to := database.AllCall
	if myCallsign != "" && strings.Contains(strings.ToLower(text), strings.ToLower(myCallsign)) {
		conversation = from
		to = myCallsign
	}

	msg := &database.Message{
		Conversation: conversation,
		From:         from,
		To:           to,
		Text:         text,
		Timestamp:    time.Now().UnixMilli(),
		SNR:          optionalInt(ev.Message, "SNR"),
		Frequency:    optionalInt(ev.Message, "FREQ"),
		Direction:    database.DirectionIncoming,
	}
	if err := s.messages.Add(msg); err != nil {
		return err
	}

	grid := strings.TrimSpace(ev.Message.ParamString("GRID"))
	if err := s.conversations.Touch(conversation, text, msg.Timestamp, msg.SNR, grid); err != nil {
		return err
	}
	unread, err := s.conversations.IncrementUnread(conversation)
	if err != nil {
		return err
	}

	if s.config.Debug && s.logger != nil {
		s.logger.Printf("Stored message from %s in %s", from, conversation)
	}

	s.publish(EventConversationUpdated, ConversationUpdate{Callsign: conversation, UnreadCount: unread})
	s.publish(EventMessageNew, msg)
	return nil
}

func (s *Service) handleCallActivity(ev js8.Event) error {
	s.publish(EventCallActivity, js8.ParseCallActivity(ev.Message))
	return nil
}

func (s *Service) handleBandActivity(ev js8.Event) error {
	s.publish(EventBandActivity, js8.ParseBandActivity(ev.Message))
	return nil
}

func (s *Service) handleStationCallsign(ev js8.Event) error {
	s.setCallsign(ev.Message.Value)
	return nil
}

func (s *Service) handleConnected(js8.Event) error {
	s.publish(EventConnectionStatus, ConnectionStatus{Connected: true})
	s.refreshCallsign()
	return nil
}

func (s *Service) handleDisconnected(js8.Event) error {
	s.publish(EventConnectionStatus, ConnectionStatus{Connected: false})
	return nil
}

func (s *Service) publish(eventType string, data any) {
	if s.publisher != nil {
		s.publisher.Publish(eventType, data)
	}
}

func optionalInt(msg *js8.Message, key string) *int64 {
	if _, ok := msg.Params[key]; !ok {
		return nil
	}
	v := msg.ParamInt(key)
	return &v
}
