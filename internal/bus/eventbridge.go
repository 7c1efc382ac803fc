package bus

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/k1networth/cdc-relay/internal/publish"
	"github.com/k1networth/cdc-relay/internal/router"
)

// PutEvents accepts at most this many entries per request.
const maxPutEventsEntries = 10

type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

type EventBridge struct {
	api EventBridgeAPI
}

func NewEventBridge(api EventBridgeAPI) *EventBridge {
	return &EventBridge{api: api}
}

// PutEntries sends the batch in PutEvents-sized chunks and merges the per-entry
// results back in input order.
func (b *EventBridge) PutEntries(ctx context.Context, entries []router.Entry) (publish.Result, error) {
	res := publish.Result{Entries: make([]publish.EntryResult, 0, len(entries))}

	for start := 0; start < len(entries); start += maxPutEventsEntries {
		end := min(start+maxPutEventsEntries, len(entries))
		chunk := entries[start:end]

		in := &eventbridge.PutEventsInput{Entries: make([]types.PutEventsRequestEntry, 0, len(chunk))}
		for _, e := range chunk {
			in.Entries = append(in.Entries, types.PutEventsRequestEntry{
				Source:       aws.String(e.Source),
				DetailType:   aws.String(e.DetailType),
				Detail:       aws.String(e.Detail),
				EventBusName: aws.String(e.EventBusName),
				Time:         aws.Time(e.Time),
			})
		}

		out, err := b.api.PutEvents(ctx, in)
		if err != nil {
			return publish.Result{}, err
		}
		if len(out.Entries) != len(chunk) {
			return publish.Result{}, fmt.Errorf("eventbridge returned %d results for %d entries", len(out.Entries), len(chunk))
		}

		for _, r := range out.Entries {
			er := publish.EntryResult{
				EventID:      aws.ToString(r.EventId),
				ErrorCode:    aws.ToString(r.ErrorCode),
				ErrorMessage: aws.ToString(r.ErrorMessage),
			}
			if er.Failed() {
				res.FailedCount++
			}
			res.Entries = append(res.Entries, er)
		}
	}
	return res, nil
}
