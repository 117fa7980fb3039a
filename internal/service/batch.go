package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/tts-gateway/internal/slots"
	"github.com/book-expert/tts-gateway/internal/tts/ttsutils"
)

// ItemStatus is the outcome of one batch entry.
type ItemStatus string

// Batch item outcomes.
const (
	ItemOK          ItemStatus = "ok"
	ItemFailed      ItemStatus = "failed"
	ItemUnavailable ItemStatus = "unavailable"
	ItemSkipped     ItemStatus = "skipped"
)

// ItemResult reports one text file of a batch.
type ItemResult struct {
	TextFile   string     `json:"text_file"`
	TTSFileURL string     `json:"tts_file_url,omitempty"`
	Key        string     `json:"key,omitempty"`
	Slot       string     `json:"slot,omitempty"`
	Status     ItemStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// BatchRequest asks for every text file of a user to be spoken.
type BatchRequest struct {
	User string
}

// BatchResult lists item outcomes in text key order.
type BatchResult struct {
	Items []ItemResult `json:"results"`
}

// Succeeded counts items with ItemOK.
func (b BatchResult) Succeeded() int {
	count := 0

	for _, item := range b.Items {
		if item.Status == ItemOK {
			count++
		}
	}

	return count
}

// SynthesizeBatch speaks every text file under the user's folder of the input
// store, in key order, and stores each as <prefix>/<user>/<MMDD>/<name>.wav.
//
// Inputs are listed before any slot is taken, so a user without text files
// gets ErrNoTextFiles without consuming capacity. With the per_batch policy
// one slot serves the whole batch and slots.ErrUnavailable means nothing was
// attempted; with per_item each entry leases its own slot and a busy pool only
// marks that entry unavailable. When ContinueOnError is false the first
// failure skips the remaining entries and ErrBatchAborted is returned with the
// partial result.
func (s *Service) SynthesizeBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	userPrefix := ttsutils.UserPrefix(req.User)
	if userPrefix == "" {
		return BatchResult{}, ErrUserRequired
	}

	textKeys, err := s.listTextKeys(ctx, userPrefix)
	if err != nil {
		return BatchResult{}, err
	}

	day := s.day()

	if s.opts.BatchAcquisition == BatchPerItem {
		return s.runItems(ctx, textKeys, func(textKey string) (ItemResult, error) {
			var item ItemResult

			err := s.withSlot(ctx, RouteBatch, func(lease *Lease) error {
				var itemErr error

				item, itemErr = s.processItem(ctx, lease, req.User, day, textKey)

				return itemErr
			})
			if errors.Is(err, slots.ErrUnavailable) && item.Status == "" {
				return ItemResult{TextFile: textKey, Status: ItemUnavailable, Error: err.Error()}, err
			}

			return item, err
		})
	}

	var result BatchResult

	err = s.withSlot(ctx, RouteBatch, func(lease *Lease) error {
		var runErr error

		result, runErr = s.runItems(ctx, textKeys, func(textKey string) (ItemResult, error) {
			return s.processItem(ctx, lease, req.User, day, textKey)
		})

		return runErr
	})

	return result, err
}

func (s *Service) listTextKeys(ctx context.Context, userPrefix string) ([]string, error) {
	keys, err := s.inputs.List(ctx, userPrefix+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list text files for %s: %w", userPrefix, err)
	}

	textKeys := make([]string, 0, len(keys))

	for _, key := range keys {
		if ttsutils.HasExtension(key, s.opts.TextExtension) {
			textKeys = append(textKeys, key)
		}
	}

	if len(textKeys) == 0 {
		return nil, fmt.Errorf("%w: %s/", ErrNoTextFiles, userPrefix)
	}

	return textKeys, nil
}

// runItems calls process for each key in order and applies the failure
// policy.
func (s *Service) runItems(
	ctx context.Context,
	textKeys []string,
	process func(textKey string) (ItemResult, error),
) (BatchResult, error) {
	result := BatchResult{Items: make([]ItemResult, 0, len(textKeys))}

	for i, textKey := range textKeys {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			result.Items = append(result.Items, skipped(textKeys[i:])...)

			return result, fmt.Errorf("batch interrupted: %w", ctxErr)
		}

		item, err := process(textKey)
		result.Items = append(result.Items, item)

		if err == nil {
			continue
		}

		s.log.Warn("Batch item %s ended with status %s: %v", textKey, item.Status, err)

		if !s.opts.ContinueOnError {
			result.Items = append(result.Items, skipped(textKeys[i+1:])...)

			return result, fmt.Errorf("%w: %s: %w", ErrBatchAborted, textKey, err)
		}
	}

	return result, nil
}

// processItem downloads, speaks and stores one text file on the leased slot.
// The returned item always carries a status.
func (s *Service) processItem(ctx context.Context, lease *Lease, user, day, textKey string) (ItemResult, error) {
	item := ItemResult{TextFile: textKey, Slot: lease.Slot(), Status: ItemFailed}

	input, err := s.inputs.Download(ctx, textKey)
	if err != nil {
		err = fmt.Errorf("failed to download text data for key '%s': %w", textKey, err)
		item.Error = err.Error()

		return item, err
	}

	if strings.TrimSpace(string(input)) == "" {
		err = fmt.Errorf("%w: %s is empty", ErrTextRequired, textKey)
		item.Error = err.Error()

		return item, err
	}

	key := s.audioKey(user, day, ttsutils.BaseName(textKey)+audioExtension)

	rendered, err := s.render(ctx, lease, string(input), key, s.params)
	if err != nil {
		item.Error = err.Error()

		return item, err
	}

	item.Status = ItemOK
	item.Key = rendered.Key
	item.TTSFileURL = rendered.URL

	return item, nil
}

func skipped(textKeys []string) []ItemResult {
	items := make([]ItemResult, len(textKeys))
	for i, textKey := range textKeys {
		items[i] = ItemResult{TextFile: textKey, Status: ItemSkipped}
	}

	return items
}
