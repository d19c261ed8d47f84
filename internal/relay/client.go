package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/pulsr/internal/config"
)

// Client opens subscription sessions against individual relays. One
// session means one connection, one REQ per filter, and collection until
// EOSE, the event cap, or context expiry.
type Client struct {
	policy *config.RelayPolicy
}

// New creates a new relay client
func New(policy *config.RelayPolicy) *Client {
	return &Client{policy: policy}
}

// Session connects to a relay, subscribes with the given filters, and
// invokes handle for each delivered event in arrival order. It stops when
// every subscription has reached EOSE, maxEvents events have been
// handled, or ctx expires. Handle stops being called once the cap is
// reached; the stream is drained without further processing.
//
// A connect failure is returned as an error. Errors after the connection
// is up resolve the session with however many events were captured.
func (c *Client) Session(ctx context.Context, url string, filters []nostr.Filter, maxEvents int, handle func(*nostr.Event)) (int, error) {
	if len(filters) == 0 || maxEvents <= 0 {
		return 0, nil
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, c.policy.ConnectTimeout())
	conn, err := nostr.RelayConnect(connectCtx, url)
	connectCancel()
	if err != nil {
		return 0, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan *nostr.Event)
	var wg sync.WaitGroup
	subscribed := 0
	var lastErr error

	for _, filter := range filters {
		sub, err := conn.Subscribe(sessionCtx, nostr.Filters{filter})
		if err != nil {
			lastErr = err
			continue
		}
		subscribed++

		wg.Add(1)
		go func(sub *nostr.Subscription) {
			defer wg.Done()
			defer sub.Unsub()
			for {
				select {
				case event, ok := <-sub.Events:
					if !ok {
						return
					}
					if event == nil {
						continue
					}
					select {
					case events <- event:
					case <-sessionCtx.Done():
						return
					}
				case <-sub.EndOfStoredEvents:
					return
				case <-sessionCtx.Done():
					return
				}
			}
		}(sub)
	}

	if subscribed == 0 {
		return 0, fmt.Errorf("failed to subscribe to %s: %w", url, lastErr)
	}

	go func() {
		wg.Wait()
		close(events)
	}()

	count := 0
	for event := range events {
		if count >= maxEvents {
			// Cap reached: stop scheduling reads, drain what is in flight.
			cancel()
			continue
		}
		handle(event)
		count++
		if count >= maxEvents {
			cancel()
		}
	}

	return count, nil
}
