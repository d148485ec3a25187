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

package strategy

import "sync"

// performanceWindow is a bounded rolling record of confidence scores for one
// strategy. Appends trim from the front once the capacity is reached.
type performanceWindow struct {
	mu       sync.Mutex
	scores   []float64
	capacity int
}

func newPerformanceWindow(capacity int) *performanceWindow {
	return &performanceWindow{capacity: capacity}
}

func (w *performanceWindow) append(confidence float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.scores = append(w.scores, confidence)
	if len(w.scores) > w.capacity {
		w.scores = w.scores[len(w.scores)-w.capacity:]
	}
}

// recentAverage returns the mean of the last n scores and how many scores
// that covers.
func (w *performanceWindow) recentAverage(n int) (float64, int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	scores := w.scores
	if len(scores) > n {
		scores = scores[len(scores)-n:]
	}
	if len(scores) == 0 {
		return 0, 0
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores)), len(scores)
}

// Tracker holds one window per strategy. Windows are created on first use.
type Tracker struct {
	mu       sync.Mutex
	windows  map[Name]*performanceWindow
	capacity int
}

// NewTracker creates a tracker whose per-strategy windows hold capacity
// scores each.
func NewTracker(capacity int) *Tracker {
	return &Tracker{
		windows:  make(map[Name]*performanceWindow),
		capacity: capacity,
	}
}

func (t *Tracker) windowFor(name Name) *performanceWindow {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[name]
	if !ok {
		w = newPerformanceWindow(t.capacity)
		t.windows[name] = w
	}
	return w
}

// Record appends an execution's confidence to the strategy's window.
func (t *Tracker) Record(name Name, confidence float64) {
	t.windowFor(name).append(confidence)
}

// RecentAverage reports the strategy's mean confidence over the last n
// executions, plus the sample count actually available.
func (t *Tracker) RecentAverage(name Name, n int) (float64, int) {
	return t.windowFor(name).recentAverage(n)
}
