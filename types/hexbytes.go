package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/vocdoni/confidential-polls/util"
)

// HexBytes is a []byte which encodes as hexadecimal in JSON, as opposed to
// the standard base64 encoding.
type HexBytes []byte

func (b HexBytes) String() string {
	return "0x" + hex.EncodeToString(b)
}

// MarshalJSON implements json.Marshaler.
func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON implements json.Unmarshaler. The 0x prefix is optional.
func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(util.TrimHex(s))
	if err != nil {
		return fmt.Errorf("invalid hex bytes: %w", err)
	}
	*b = decoded
	return nil
}

// HexStringToHexBytes decodes a hex string, with or without 0x prefix.
func HexStringToHexBytes(s string) (HexBytes, error) {
	return hex.DecodeString(util.TrimHex(s))
}
