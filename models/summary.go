package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MetadataItemCount   = "itemCount"
	MetadataItems       = "items"
	MetadataCartSession = "cartSession"

	// MaxMetadataValueLength is the processor's limit on a single metadata value.
	MaxMetadataValueLength = 500
	// MaxMetadataKeys is the processor's limit on metadata keys per object.
	MaxMetadataKeys = 50
	// MaxSummaryChunks leaves room for the itemCount and cartSession keys.
	MaxSummaryChunks = MaxMetadataKeys - 2
)

var (
	ErrMissingSummary = errors.New("order summary missing from metadata")
	ErrSummaryTooLong = errors.New("order summary exceeds metadata limits")
)

// LineSummary is the compact per-line record attached to a checkout session
// for reconciliation with the payment confirmation.
type LineSummary struct {
	ProductID string  `json:"productId"`
	VariantID string  `json:"variantId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

func NewLineSummaries(items []CartItem) []LineSummary {
	summaries := make([]LineSummary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, LineSummary{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	return summaries
}

// EncodeSummaryMetadata serializes the summaries and spreads the JSON over
// "items", "items_1", "items_2", ... so that no value exceeds the limit. It
// returns ErrSummaryTooLong when the chunks would not fit in the key limit.
func EncodeSummaryMetadata(summaries []LineSummary) (map[string]string, error) {
	data, err := json.Marshal(summaries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order summary: %w", err)
	}

	chunks := splitRunes(string(data), MaxMetadataValueLength)
	if len(chunks) > MaxSummaryChunks {
		return nil, fmt.Errorf("%w: %d chunks for %d lines", ErrSummaryTooLong, len(chunks), len(summaries))
	}

	metadata := map[string]string{
		MetadataItemCount: strconv.Itoa(len(summaries)),
	}
	for i, chunk := range chunks {
		metadata[summaryKey(i)] = chunk
	}
	return metadata, nil
}

// ParseOrderSummary reassembles and decodes the summary written by
// EncodeSummaryMetadata.
func ParseOrderSummary(metadata map[string]string) ([]LineSummary, error) {
	first, ok := metadata[MetadataItems]
	if !ok {
		return nil, ErrMissingSummary
	}

	var sb strings.Builder
	sb.WriteString(first)
	for i := 1; ; i++ {
		chunk, ok := metadata[summaryKey(i)]
		if !ok {
			break
		}
		sb.WriteString(chunk)
	}

	var summaries []LineSummary
	if err := json.Unmarshal([]byte(sb.String()), &summaries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order summary: %w", err)
	}
	return summaries, nil
}

func summaryKey(i int) string {
	if i == 0 {
		return MetadataItems
	}
	return MetadataItems + "_" + strconv.Itoa(i)
}

// splitRunes cuts s into pieces of at most n runes without splitting a rune.
func splitRunes(s string, n int) []string {
	if s == "" {
		return []string{""}
	}
	var chunks []string
	for len(s) > 0 {
		if utf8.RuneCountInString(s) <= n {
			chunks = append(chunks, s)
			break
		}
		cut, count := 0, 0
		for cut < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[cut:])
			cut += size
			count++
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return chunks
}
