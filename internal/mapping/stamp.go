package mapping

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// StampSuffix names the sidecar recording which inputs produced an output.
const StampSuffix = ".stamp"

const stampVersion = 2

// stamp is persisted next to a merged mapping. Only Hash decides reuse; the
// counts are kept so a skipped merge can still report what the output holds.
type stamp struct {
	Version  int    `cbor:"version"`
	Hash     string `cbor:"hash"`
	Classes  int    `cbor:"classes"`
	Fields   int    `cbor:"fields"`
	Methods  int    `cbor:"methods"`
	Warnings int    `cbor:"warnings"`
}

var stampEncMode cbor.EncMode

func init() {
	var err error
	stampEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("mapping: CBOR encoder initialization failed: " + err.Error())
	}
}

// readStamp returns the stamp beside output, or nil when there is none or it
// cannot be decoded.
func readStamp(output string) (*stamp, error) {
	data, err := os.ReadFile(output + StampSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading stamp: %w", err)
	}
	var s stamp
	if err := cbor.Unmarshal(data, &s); err != nil || s.Version != stampVersion {
		return nil, nil
	}
	return &s, nil
}

func writeStamp(output string, s stamp) error {
	s.Version = stampVersion
	data, err := stampEncMode.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding stamp: %w", err)
	}
	if err := os.WriteFile(output+StampSuffix, data, 0o644); err != nil {
		return fmt.Errorf("writing stamp: %w", err)
	}
	return nil
}
