package ingest

import "encoding/json"

const (
	// MaxBatchBytes bounds the total encoded size of a Batch's messages.
	MaxBatchBytes = 500_000
	// MaxMessageBytes bounds the encoded size of a single message.
	MaxMessageBytes = 32_768
	// baseBytes accounts for the surrounding "[]" of the encoded batch array.
	baseBytes = 2
)

// AddOutcome describes the result of Batch.Add.
type AddOutcome int

const (
	// Added means the message was appended to the batch.
	Added AddOutcome = iota
	// BatchFull means the message was rejected because appending it would
	// exceed the batch's count or byte limit; the caller should flush and
	// retry the add against a cleared batch.
	BatchFull
	// MessageTooLarge means the single encoded message exceeds MaxMessageBytes.
	MessageTooLarge
)

// Batch accumulates Messages up to a count limit and a byte-size limit.
type Batch struct {
	apiKey    string
	batchSize int
	messages  []Message
	encoded   [][]byte
	size      int
}

// NewBatch creates an empty Batch bounded to at most batchSize messages.
func NewBatch(apiKey string, batchSize int) *Batch {
	return &Batch{apiKey: apiKey, batchSize: batchSize, size: baseBytes}
}

// Add encodes msg and attempts to append it to the batch. See AddOutcome
// for the three possible results.
func (b *Batch) Add(msg Message) (AddOutcome, error) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return MessageTooLarge, err
	}
	if len(encoded) > MaxMessageBytes {
		return MessageTooLarge, nil
	}

	separator := 0
	if len(b.messages) > 0 {
		separator = 1
	}
	if len(b.messages) >= b.batchSize || b.size+len(encoded)+separator > MaxBatchBytes {
		return BatchFull, nil
	}

	b.messages = append(b.messages, msg)
	b.encoded = append(b.encoded, encoded)
	b.size += len(encoded) + separator
	return Added, nil
}

// Count returns the number of messages currently in the batch.
func (b *Batch) Count() int { return len(b.messages) }

// Size returns the current encoded byte size, including the "[]" wrapper.
func (b *Batch) Size() int { return b.size }

// Full reports whether the batch has reached its count limit.
func (b *Batch) Full() bool { return len(b.messages) >= b.batchSize }

// Empty reports whether the batch holds no messages.
func (b *Batch) Empty() bool { return len(b.messages) == 0 }

// Messages returns the batch's messages in enqueue order.
func (b *Batch) Messages() []Message {
	return append([]Message(nil), b.messages...)
}

// Clear resets the batch to empty.
func (b *Batch) Clear() {
	b.messages = nil
	b.encoded = nil
	b.size = baseBytes
}

// Encode renders the batch as the wire payload {"api_key":..., "batch":[...]}.
// It must never be called on an empty batch (spec.md §3 invariant (d)).
func (b *Batch) Encode() ([]byte, error) {
	parts := make([]json.RawMessage, len(b.encoded))
	for i, e := range b.encoded {
		parts[i] = json.RawMessage(e)
	}
	return json.Marshal(struct {
		APIKey string            `json:"api_key"`
		Batch  []json.RawMessage `json:"batch"`
	}{APIKey: b.apiKey, Batch: parts})
}
