package sequencer

import (
	"context"
	"encoding/json"

	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/ledger"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

// Routing tags carried by every contract interaction.
const (
	TagContract = "Contract"
	TagInput    = "Input"
)

// IncomingTransaction is a signed interaction submitted directly to the gateway.
type IncomingTransaction struct {
	ID     string          `json:"id"`
	Owner  string          `json:"owner"`
	Target string          `json:"target,omitempty"`
	Tags   []ledger.Tag    `json:"tags"`
	Raw    json.RawMessage `json:"-"`
}

// TagValue returns the value of the first tag called name.
func (t IncomingTransaction) TagValue(name string) (string, bool) {
	for _, tag := range t.Tags {
		if tag.Name == name {
			return tag.Value, true
		}
	}
	return "", false
}

// RegisterSettled admits a transaction found on the ledger by sync. Its block
// is the one it was settled in.
func (s *Sequencer) RegisterSettled(ctx context.Context, tx ledger.Transaction) (*store.Interaction, error) {
	contractID, _ := tx.TagValue(TagContract)
	input, _ := tx.TagValue(TagInput)

	raw, err := json.Marshal(tx)
	if err != nil {
		return nil, gwerrors.NewInternalError("failed to encode transaction", err)
	}
	block := tx.Block

	return s.Sequence(ctx, Admission{
		InteractionID: tx.ID,
		ContractID:    contractID,
		FunctionName:  FunctionName(input),
		Input:         input,
		Owner:         tx.Owner.Address,
		Raw:           string(raw),
		Block:         &block,
		Source:        store.SourceLedger,
	})
}

// AcceptIncoming admits a transaction that has not been settled yet. It is
// placed at the current chain head and queued for bundling.
func (s *Sequencer) AcceptIncoming(ctx context.Context, in IncomingTransaction) (*store.Interaction, error) {
	contractID, _ := in.TagValue(TagContract)
	input, _ := in.TagValue(TagInput)

	raw := string(in.Raw)
	if raw == "" {
		encoded, err := json.Marshal(in)
		if err != nil {
			return nil, gwerrors.NewInternalError("failed to encode transaction", err)
		}
		raw = string(encoded)
	}

	return s.Sequence(ctx, Admission{
		InteractionID: in.ID,
		ContractID:    contractID,
		FunctionName:  FunctionName(input),
		Input:         input,
		Owner:         in.Owner,
		Raw:           raw,
		Source:        store.SourceGateway,
		Bundle:        &raw,
	})
}

// FunctionName extracts the "function" field from an input payload. Inputs
// are opaque; anything unparsable yields "".
func FunctionName(input string) string {
	if input == "" {
		return ""
	}
	var payload struct {
		Function string `json:"function"`
	}
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return ""
	}
	return payload.Function
}
