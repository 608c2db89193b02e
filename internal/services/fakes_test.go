package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"phonereset/internal/interfaces"
	"phonereset/internal/models"
)

// fakeBackend is an in-memory ResetBackend mirroring the SQL semantics.
type fakeBackend struct {
	mu sync.Mutex

	users     []models.User
	otps      []*models.OTPRecord
	passwords map[string]string

	insertErr error
	findErr   error
	markErr   error
	deleteErr error
	updateErr error

	updateCalls int
}

func newFakeBackend(users ...models.User) *fakeBackend {
	return &fakeBackend{users: users, passwords: make(map[string]string)}
}

func (f *fakeBackend) FindByPhone(_ context.Context, normalized string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var found []models.User
	for _, u := range f.users {
		if strings.Contains(strings.ToLower(NormalizePhone(u.PhoneNumber)), strings.ToLower(normalized)) {
			found = append(found, u)
		}
	}
	if len(found) != 1 {
		return nil, interfaces.ErrUserNotFound
	}
	u := found[0]
	return &u, nil
}

func (f *fakeBackend) Insert(_ context.Context, otp *models.OTPRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := *otp
	f.otps = append(f.otps, &cp)
	return nil
}

func (f *fakeBackend) FindActive(_ context.Context, q interfaces.OTPQuery) (*models.OTPRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}

	var matches []*models.OTPRecord
	for _, o := range f.otps {
		if o.UserID == q.UserID && o.Code == q.Code && o.Active(q.Now) {
			matches = append(matches, o)
		}
	}
	if len(matches) == 0 {
		return nil, interfaces.ErrOTPNotFound
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	cp := *matches[0]
	return &cp, nil
}

func (f *fakeBackend) MarkVerified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	for _, o := range f.otps {
		if o.ID == id && !o.Verified {
			o.Verified = true
			return nil
		}
	}
	return interfaces.ErrOTPNotFound
}

func (f *fakeBackend) DeleteVerified(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	var kept []*models.OTPRecord
	var n int64
	for _, o := range f.otps {
		if o.UserID == userID && o.Verified {
			n++
			continue
		}
		kept = append(kept, o)
	}
	f.otps = kept
	return n, nil
}

func (f *fakeBackend) UpdatePassword(_ context.Context, userID string, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	f.passwords[userID] = newPassword
	return nil
}

func (f *fakeBackend) records() []models.OTPRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.OTPRecord, 0, len(f.otps))
	for _, o := range f.otps {
		out = append(out, *o)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentOTP struct {
	phone string
	code  string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentOTP
	err  error
}

func (r *recordingSender) SendOTP(_ context.Context, _ *models.User, phone, code string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentOTP{phone: phone, code: code})
	return r.err
}

func (r *recordingSender) last() sentOTP {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return sentOTP{}
	}
	return r.sent[len(r.sent)-1]
}

// codeSequence hands out the given codes in order, repeating the last one.
func codeSequence(codes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return c, nil
	}
}
