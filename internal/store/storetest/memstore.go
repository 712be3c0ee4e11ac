// Copyright (c) 2026 John Earle
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

// Package storetest provides an in-memory store.Store for pipeline tests.
// Transactions are all-or-nothing: a failing WithTx callback leaves no trace.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/store"
)

// Mem is an in-memory store. Zero value is not usable; call New.
type Mem struct {
	mu sync.Mutex
	st *state

	// FailOn makes the named operation (e.g. "InsertActivity") return the
	// given error.
	FailOn map[string]error
}

type state struct {
	contacts      map[string]*models.Contact
	messages      []*models.Message
	activities    []*models.Activity
	notifications []*models.Notification
	failOn        map[string]error
}

// New creates an empty store.
func New() *Mem {
	return &Mem{st: &state{contacts: make(map[string]*models.Contact)}, FailOn: map[string]error{}}
}

// AddContact seeds a contact.
func (m *Mem) AddContact(c models.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Stage == "" {
		c.Stage = models.StageNew
	}
	m.st.contacts[c.ID] = &c
}

// AddMessage seeds a message row.
func (m *Mem) AddMessage(msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m.st.messages = append(m.st.messages, &msg)
}

// Contact returns a copy of a contact.
func (m *Mem) Contact(id string) (models.Contact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.st.contacts[id]
	if !ok {
		return models.Contact{}, false
	}
	return *c, true
}

// Contacts returns copies of all contacts sorted by id.
func (m *Mem) Contacts() []models.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Contact, 0, len(m.st.contacts))
	for _, c := range m.st.contacts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Messages returns copies of all message rows in insertion order.
func (m *Mem) Messages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Message, 0, len(m.st.messages))
	for _, msg := range m.st.messages {
		out = append(out, *msg)
	}
	return out
}

// MessageByMessageID returns a copy of the row with the given message_id.
func (m *Mem) MessageByMessageID(id string) (models.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.st.messages {
		if msg.MessageID == id {
			return *msg, true
		}
	}
	return models.Message{}, false
}

// Activities returns copies of all activities.
func (m *Mem) Activities() []models.Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Activity, 0, len(m.st.activities))
	for _, a := range m.st.activities {
		out = append(out, *a)
	}
	return out
}

// Notifications returns copies of all notifications.
func (m *Mem) Notifications() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Notification, 0, len(m.st.notifications))
	for _, n := range m.st.notifications {
		out = append(out, *n)
	}
	return out
}

// locked runs fn against the live state under the mutex.
func (m *Mem) locked(fn func(s *state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.failOn = m.FailOn
	return fn(m.st)
}

// WithTx implements store.Store. The callback works on a deep copy that
// replaces the live state only when the callback succeeds.
func (m *Mem) WithTx(ctx context.Context, fn func(q store.Querier) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.st.failOn = m.FailOn
	draft := m.st.clone()
	if err := fn(draft); err != nil {
		return err
	}
	m.st = draft
	return nil
}

// Ping implements store.Store.
func (m *Mem) Ping(context.Context) error { return nil }

func (m *Mem) MessageExists(ctx context.Context, id string) (bool, error) {
	var out bool
	err := m.locked(func(s *state) (err error) { out, err = s.MessageExists(ctx, id); return })
	return out, err
}

func (m *Mem) FindContactByEmail(ctx context.Context, addr string) (*models.Contact, error) {
	var out *models.Contact
	err := m.locked(func(s *state) (err error) { out, err = s.FindContactByEmail(ctx, addr); return })
	return out, err
}

func (m *Mem) FindContactByID(ctx context.Context, id string) (*models.Contact, error) {
	var out *models.Contact
	err := m.locked(func(s *state) (err error) { out, err = s.FindContactByID(ctx, id); return })
	return out, err
}

func (m *Mem) MostRecentOutboundTo(ctx context.Context, addr string, t models.EmailType) (*models.Message, error) {
	var out *models.Message
	err := m.locked(func(s *state) (err error) { out, err = s.MostRecentOutboundTo(ctx, addr, t); return })
	return out, err
}

func (m *Mem) FindOutboundByMessageID(ctx context.Context, id string) (*models.Message, error) {
	var out *models.Message
	err := m.locked(func(s *state) (err error) { out, err = s.FindOutboundByMessageID(ctx, id); return })
	return out, err
}

func (m *Mem) InsertMessage(ctx context.Context, msg *models.Message) error {
	return m.locked(func(s *state) error { return s.InsertMessage(ctx, msg) })
}

func (m *Mem) MarkReplied(ctx context.Context, id string, at time.Time) error {
	return m.locked(func(s *state) error { return s.MarkReplied(ctx, id, at) })
}

func (m *Mem) UpdateContactStage(ctx context.Context, id string, stage models.Stage, at time.Time) error {
	return m.locked(func(s *state) error { return s.UpdateContactStage(ctx, id, stage, at) })
}

func (m *Mem) ArchiveContact(ctx context.Context, id, reason string, at time.Time) error {
	return m.locked(func(s *state) error { return s.ArchiveContact(ctx, id, reason, at) })
}

func (m *Mem) InsertActivity(ctx context.Context, a *models.Activity) error {
	return m.locked(func(s *state) error { return s.InsertActivity(ctx, a) })
}

func (m *Mem) InsertNotification(ctx context.Context, n *models.Notification) error {
	return m.locked(func(s *state) error { return s.InsertNotification(ctx, n) })
}

func (m *Mem) AppendContactNote(ctx context.Context, id, note string) error {
	return m.locked(func(s *state) error { return s.AppendContactNote(ctx, id, note) })
}

var _ store.Store = (*Mem)(nil)

func (s *state) clone() *state {
	c := &state{
		contacts: make(map[string]*models.Contact, len(s.contacts)),
		failOn:   s.failOn,
	}
	for id, ct := range s.contacts {
		cp := *ct
		c.contacts[id] = &cp
	}
	for _, msg := range s.messages {
		cp := *msg
		c.messages = append(c.messages, &cp)
	}
	for _, a := range s.activities {
		cp := *a
		c.activities = append(c.activities, &cp)
	}
	for _, n := range s.notifications {
		cp := *n
		c.notifications = append(c.notifications, &cp)
	}
	return c
}

func (s *state) fail(op string) error {
	if err, ok := s.failOn[op]; ok && err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *state) MessageExists(_ context.Context, id string) (bool, error) {
	if err := s.fail("MessageExists"); err != nil {
		return false, err
	}
	for _, m := range s.messages {
		if m.MessageID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *state) FindContactByEmail(_ context.Context, addr string) (*models.Contact, error) {
	if err := s.fail("FindContactByEmail"); err != nil {
		return nil, err
	}
	var best *models.Contact
	for _, c := range s.contacts {
		if !strings.EqualFold(c.Email, addr) {
			continue
		}
		if best == nil || c.CreatedAt.Before(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *state) FindContactByID(_ context.Context, id string) (*models.Contact, error) {
	if err := s.fail("FindContactByID"); err != nil {
		return nil, err
	}
	c, ok := s.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *state) MostRecentOutboundTo(_ context.Context, addr string, emailType models.EmailType) (*models.Message, error) {
	if err := s.fail("MostRecentOutboundTo"); err != nil {
		return nil, err
	}
	var best *models.Message
	for _, m := range s.messages {
		if m.Direction != models.DirectionOutbound || !strings.EqualFold(m.ToEmail, addr) {
			continue
		}
		if emailType != "" && m.EmailType != emailType {
			continue
		}
		if best == nil || sentAfter(m, best) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// sentAfter orders by sent_at DESC NULLS LAST, then created_at DESC.
func sentAfter(a, b *models.Message) bool {
	switch {
	case a.SentAt != nil && b.SentAt == nil:
		return true
	case a.SentAt == nil && b.SentAt != nil:
		return false
	case a.SentAt != nil && !a.SentAt.Equal(*b.SentAt):
		return a.SentAt.After(*b.SentAt)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (s *state) FindOutboundByMessageID(_ context.Context, id string) (*models.Message, error) {
	if err := s.fail("FindOutboundByMessageID"); err != nil {
		return nil, err
	}
	for _, m := range s.messages {
		if m.MessageID == id && m.Direction == models.DirectionOutbound {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *state) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := s.fail("InsertMessage"); err != nil {
		return err
	}
	if exists, _ := s.MessageExists(ctx, msg.MessageID); exists {
		return store.ErrDuplicate
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *state) MarkReplied(_ context.Context, id string, at time.Time) error {
	if err := s.fail("MarkReplied"); err != nil {
		return err
	}
	for _, m := range s.messages {
		if m.ID == id {
			m.Status = models.StatusReplied
			t := at
			m.RepliedAt = &t
		}
	}
	return nil
}

func (s *state) UpdateContactStage(_ context.Context, id string, stage models.Stage, at time.Time) error {
	if err := s.fail("UpdateContactStage"); err != nil {
		return err
	}
	if c, ok := s.contacts[id]; ok {
		c.Stage = stage
		t := at
		c.LastContactedAt = &t
	}
	return nil
}

func (s *state) ArchiveContact(_ context.Context, id, reason string, at time.Time) error {
	if err := s.fail("ArchiveContact"); err != nil {
		return err
	}
	if c, ok := s.contacts[id]; ok {
		t := at
		r := reason
		c.Archived = true
		c.ArchivedAt = &t
		c.ArchiveReason = &r
		c.Stage = models.StageLost
		c.LastContactedAt = &t
	}
	return nil
}

func (s *state) InsertActivity(_ context.Context, a *models.Activity) error {
	if err := s.fail("InsertActivity"); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	cp := *a
	s.activities = append(s.activities, &cp)
	return nil
}

func (s *state) InsertNotification(_ context.Context, n *models.Notification) error {
	if err := s.fail("InsertNotification"); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

func (s *state) AppendContactNote(_ context.Context, id, note string) error {
	if err := s.fail("AppendContactNote"); err != nil {
		return err
	}
	if c, ok := s.contacts[id]; ok {
		if c.Notes == "" {
			c.Notes = note
		} else {
			c.Notes += "\n" + note
		}
	}
	return nil
}
