// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"sync"
	"time"

	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/seeker/pkg/errkind"
)

const poolIdleTimeout = 5 * time.Minute

// Pool is a fixed-size pool of Milvus client handles. Checkouts are bounded
// by a weighted semaphore so waiting is fair and honors context cancel.
// Clients are created lazily and reaped after sitting idle.
type Pool struct {
	cfg  milvusclient.ClientConfig
	sem  *semaphore.Weighted
	size int

	mu     sync.Mutex
	idle   []*pooledClient
	closed bool

	stopReaper chan struct{}
}

type pooledClient struct {
	client   *milvusclient.Client
	lastUsed time.Time
}

// NewPool creates a pool of at most size clients for the given endpoint.
func NewPool(address, username, password string, size int) (*Pool, error) {
	if size < 1 {
		return nil, errkind.New(errkind.InvalidArgument, "pool size must be at least 1")
	}
	p := &Pool{
		cfg: milvusclient.ClientConfig{
			Address:  address,
			Username: username,
			Password: password,
		},
		sem:        semaphore.NewWeighted(int64(size)),
		size:       size,
		stopReaper: make(chan struct{}),
	}
	go p.reapLoop()
	return p, nil
}

// Acquire checks out a client. The returned release function must be called
// exactly once; it is safe to call after the context is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*milvusclient.Client, func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, errkind.Wrap(errkind.KindOf(err), "vector pool checkout aborted", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, nil, errkind.New(errkind.NotFound, "vector pool is closed")
	}
	var pc *pooledClient
	if n := len(p.idle); n > 0 {
		pc = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if pc == nil {
		client, err := milvusclient.New(ctx, &p.cfg)
		if err != nil {
			p.sem.Release(1)
			return nil, nil, errkind.Wrap(errkind.Transport, "failed to connect to vector store", err)
		}
		pc = &pooledClient{client: client}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			p.release(pc)
		})
	}
	return pc.client, release, nil
}

func (p *Pool) release(pc *pooledClient) {
	pc.lastUsed = time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeClient(pc)
		p.sem.Release(1)
		return
	}
	p.idle = append(p.idle, pc)
	p.mu.Unlock()

	p.sem.Release(1)
}

// Discard drops a client instead of returning it to the pool. Used after
// transport errors so the next checkout reconnects.
func (p *Pool) Discard(pc *milvusclient.Client) {
	p.mu.Lock()
	for i, idle := range p.idle {
		if idle.client == pc {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.closeClient(&pooledClient{client: pc})
}

// reapLoop closes clients idle past the timeout, keeping one warm.
func (p *Pool) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopReaper:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	cutoff := time.Now().Add(-poolIdleTimeout)

	p.mu.Lock()
	var keep, reap []*pooledClient
	for _, pc := range p.idle {
		if len(keep) > 0 && pc.lastUsed.Before(cutoff) {
			reap = append(reap, pc)
		} else {
			keep = append(keep, pc)
		}
	}
	p.idle = keep
	p.mu.Unlock()

	for _, pc := range reap {
		p.closeClient(pc)
	}
}

func (p *Pool) closeClient(pc *pooledClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = pc.client.Close(ctx)
}

// Close shuts the pool down and closes idle clients. Checked-out clients are
// closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stopReaper)
	for _, pc := range idle {
		p.closeClient(pc)
	}
	return nil
}
