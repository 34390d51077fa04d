package sync

import (
	"context"
	"math/rand"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ledgerd/node/model"
)

// GossipConcurrency bounds simultaneous outbound gossip calls, per
// spec.md §5 ("Gossip propagation is bounded by a semaphore of 50
// concurrent outbound calls").
const GossipConcurrency = 50

// GossipFanout is how many peers a single gossip message is sent to,
// per spec.md §5 ("a random 20-peer fan-out per message").
const GossipFanout = 20

// PeerSender delivers a single gossip payload to one peer. Implemented
// by the api package's outbound HTTP client.
type PeerSender interface {
	Send(ctx context.Context, peer *model.PeerRecord, payload []byte) error
}

// Gossip fan-out's payload to up to GossipFanout of peers concurrently,
// capped at GossipConcurrency in flight, per spec.md §5. Propagation is
// best-effort: a failed send is swallowed rather than aborting the
// group, since spec.md describes propagation as "best-effort and
// unordered."
func Gossip(ctx context.Context, sender PeerSender, peers []*model.PeerRecord, payload []byte) {
	shuffled := make([]*model.PeerRecord, len(peers))
	copy(shuffled, peers)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	targets := shuffled
	if len(targets) > GossipFanout {
		targets = targets[:GossipFanout]
	}

	sem := semaphore.NewWeighted(GossipConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	for _, peer := range targets {
		peer := peer
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil // context cancelled; propagation is best-effort.
			}
			defer sem.Release(1)
			_ = sender.Send(gctx, peer, payload)
			return nil
		})
	}
	_ = g.Wait()
}
