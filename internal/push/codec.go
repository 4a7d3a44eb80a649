package push

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// jsonToProto converts a JSON object into a serialized google.protobuf.Struct
func jsonToProto(data []byte) ([]byte, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to convert frame to struct: %w", err)
	}
	encoded, err := proto.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return encoded, nil
}

// protoToJSON is the inverse of jsonToProto
func protoToJSON(data []byte) ([]byte, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return protojson.Marshal(&s)
}
