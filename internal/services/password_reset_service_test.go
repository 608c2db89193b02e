package services

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonereset/internal/apperror"
	"phonereset/internal/interfaces"
	"phonereset/internal/logger"
	"phonereset/internal/models"
)

var (
	alice = models.User{ID: "user-a", Email: "alice@example.com", PhoneNumber: "+234 801 234 5678"}
	bob   = models.User{ID: "user-b", Email: "bob@example.com", PhoneNumber: "+1 (555) 010-9999"}
)

type harness struct {
	svc     *PasswordResetService
	backend *fakeBackend
	clock   *fakeClock
	sender  *recordingSender
}

func newHarness(t *testing.T, opts Options, codes ...string) *harness {
	t.Helper()
	if len(codes) == 0 {
		codes = []string{"123456"}
	}
	h := &harness{
		backend: newFakeBackend(alice, bob),
		clock:   &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		sender:  &recordingSender{},
	}
	opts.Now = h.clock.Now
	opts.GenerateCode = codeSequence(codes...)
	h.svc = NewPasswordResetService(h.backend, LegacyTokenCodec{}, h.sender, logger.Discard(), opts)
	return h
}

func legacyToken(userID string, issuedAt time.Time) string {
	payload := userID + ":" + strconv.FormatInt(issuedAt.UnixMilli(), 10) + ":0.42"
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

func TestIssueOTPMasksPhoneAndSetsExpiry(t *testing.T) {
	h := newHarness(t, Options{})
	issuedAt := h.clock.Now()

	res, err := h.svc.IssueOTP(context.Background(), "+234 801 234 5678")
	require.NoError(t, err)

	assert.Equal(t, "+234 *** *** 5678", res.MaskedPhone)
	assert.Equal(t, 600*time.Second, res.ExpiresAt.Sub(issuedAt))

	records := h.backend.records()
	require.Len(t, records, 1)
	assert.Equal(t, alice.ID, records[0].UserID)
	assert.Equal(t, "123456", records[0].Code)
	assert.Equal(t, "2348012345678", records[0].PhoneNumber)
	assert.False(t, records[0].Verified)
	assert.Equal(t, sentOTP{phone: "2348012345678", code: "123456"}, h.sender.last())
}

func TestIssueOTPUnknownPhone(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.svc.IssueOTP(context.Background(), "+44 20 7946 0000")
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
	assert.Empty(t, h.backend.records())
	assert.Empty(t, h.sender.sent)
}

func TestIssueOTPMissingPhone(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.svc.IssueOTP(context.Background(), " ( ) - ")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeBadRequest))
}

func TestIssueOTPSurvivesStoreFailures(t *testing.T) {
	for name, storeErr := range map[string]error{
		"unavailable": &interfaces.StoreError{Op: "otp.insert", Unavailable: true, Err: errors.New("relation does not exist")},
		"query error": &interfaces.StoreError{Op: "otp.insert", Err: errors.New("connection refused")},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.backend.insertErr = storeErr

			res, err := h.svc.IssueOTP(context.Background(), "2348012345678")
			require.NoError(t, err)
			assert.Equal(t, "+234 *** *** 5678", res.MaskedPhone)
			assert.Empty(t, h.backend.records())
		})
	}
}

func TestIssueOTPSurvivesDeliveryFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.sender.err = errors.New("sms gateway down")

	_, err := h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)
	assert.Len(t, h.backend.records(), 1)
}

func TestNormalizedPhonesResolveIdentically(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.svc.IssueOTP(context.Background(), "+234 801-234 5678")
	require.NoError(t, err)

	grant, err := h.svc.VerifyOTP(context.Background(), "2348012345678", "123456")
	require.NoError(t, err)
	assert.NotEmpty(t, grant.Token)
}

func TestVerifyOTPWithinValidity(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	verifiedAt := h.clock.Now()
	grant, err := h.svc.VerifyOTP(context.Background(), "2348012345678", "123456")
	require.NoError(t, err)

	assert.Equal(t, verifiedAt.Add(15*time.Minute), grant.ExpiresAt)
	claims, err := LegacyTokenCodec{}.Decode(grant.Token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.UserID)
	assert.Equal(t, verifiedAt.UnixMilli(), claims.IssuedAt.UnixMilli())
	assert.True(t, h.backend.records()[0].Verified)
}

func TestVerifyOTPExpired(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)

	h.clock.Advance(10*time.Minute + time.Second)
	_, err = h.svc.VerifyOTP(context.Background(), "2348012345678", "123456")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidOrExpired))
	assert.False(t, h.backend.records()[0].Verified)
}

func TestVerifyOTPWrongCodeLeavesRecordUnverified(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)

	_, err = h.svc.VerifyOTP(context.Background(), "2348012345678", "000000")
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidOrExpired))
	assert.Equal(t, 400, apperror.As(err).HTTPStatus)
	assert.False(t, h.backend.records()[0].Verified)
}

func TestVerifyOTPNeverCrossesUsers(t *testing.T) {
	h := newHarness(t, Options{}, "424242")
	_, err := h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)

	_, err = h.svc.VerifyOTP(context.Background(), "+1 (555) 010-9999", "424242")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidOrExpired))
	assert.False(t, h.backend.records()[0].Verified)
}

func TestVerifyOTPIsSingleUse(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)

	_, err = h.svc.VerifyOTP(context.Background(), "2348012345678", "123456")
	require.NoError(t, err)
	_, err = h.svc.VerifyOTP(context.Background(), "2348012345678", "123456")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidOrExpired))
}

func TestVerifyOTPMostRecentWins(t *testing.T) {
	h := newHarness(t, Options{}, "111111", "111111")
	_, err := h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	_, err = h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)

	_, err = h.svc.VerifyOTP(context.Background(), "2348012345678", "111111")
	require.NoError(t, err)

	records := h.backend.records()
	require.Len(t, records, 2)
	assert.False(t, records[0].Verified, "older record stays unconsumed")
	assert.True(t, records[1].Verified, "newest record is consumed")
}

func TestVerifyOTPSupersededCodesStayValid(t *testing.T) {
	h := newHarness(t, Options{}, "111111", "222222")
	_, err := h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)
	_, err = h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)

	_, err = h.svc.VerifyOTP(context.Background(), "2348012345678", "111111")
	assert.NoError(t, err)
}

func TestVerifyOTPLostRaceIsRejected(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.IssueOTP(context.Background(), "2348012345678")
	require.NoError(t, err)
	h.backend.markErr = interfaces.ErrOTPNotFound

	_, err = h.svc.VerifyOTP(context.Background(), "2348012345678", "123456")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidOrExpired))
}

func TestVerifyOTPInputValidation(t *testing.T) {
	h := newHarness(t, Options{})

	cases := []struct {
		name  string
		phone string
		code  string
	}{
		{"missing phone", "", "123456"},
		{"missing code", "2348012345678", ""},
		{"short code", "2348012345678", "12345"},
		{"letters", "2348012345678", "12a456"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.VerifyOTP(context.Background(), tc.phone, tc.code)
			assert.True(t, apperror.HasCode(err, apperror.ErrCodeBadRequest), "got %v", err)
		})
	}

	_, err := h.svc.VerifyOTP(context.Background(), "+44 20 7946 0000", "123456")
	assert.True(t, apperror.IsNotFound(err))
}

func TestVerifyOTPDegradedMode(t *testing.T) {
	unavailable := &interfaces.StoreError{Op: "otp.find_active", Unavailable: true, Err: errors.New("relation does not exist")}

	t.Run("enabled", func(t *testing.T) {
		h := newHarness(t, Options{AllowDegradedOTP: true})
		h.backend.findErr = unavailable

		grant, err := h.svc.VerifyOTP(context.Background(), "2348012345678", "987654")
		require.NoError(t, err)
		claims, err := LegacyTokenCodec{}.Decode(grant.Token)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, claims.UserID)
	})

	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.backend.findErr = unavailable

		_, err := h.svc.VerifyOTP(context.Background(), "2348012345678", "987654")
		assert.True(t, apperror.HasCode(err, apperror.ErrCodeStoreUnavailable))
	})

	t.Run("still validates format", func(t *testing.T) {
		h := newHarness(t, Options{AllowDegradedOTP: true})
		h.backend.findErr = unavailable

		_, err := h.svc.VerifyOTP(context.Background(), "2348012345678", "98765x")
		assert.True(t, apperror.HasCode(err, apperror.ErrCodeBadRequest))
	})

	t.Run("plain store error is internal", func(t *testing.T) {
		h := newHarness(t, Options{AllowDegradedOTP: true})
		h.backend.findErr = &interfaces.StoreError{Op: "otp.find_active", Err: errors.New("timeout")}

		_, err := h.svc.VerifyOTP(context.Background(), "2348012345678", "987654")
		assert.True(t, apperror.HasCode(err, apperror.ErrCodeInternal))
	})
}

func TestResetPasswordRejectsTokenForAnotherUser(t *testing.T) {
	h := newHarness(t, Options{})
	token := legacyToken(alice.ID, h.clock.Now())

	err := h.svc.ResetPassword(context.Background(), "+1 (555) 010-9999", token, "s3cret!")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidToken))
	assert.Zero(t, h.backend.updateCalls)
}

func TestResetPasswordTokenExpiryBoundary(t *testing.T) {
	h := newHarness(t, Options{})
	token := legacyToken(alice.ID, h.clock.Now())

	h.clock.Advance(14*time.Minute + 59*time.Second)
	require.NoError(t, h.svc.ResetPassword(context.Background(), "2348012345678", token, "s3cret!"))

	h.clock.Advance(2 * time.Second)
	err := h.svc.ResetPassword(context.Background(), "2348012345678", token, "s3cret!")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeTokenExpired))
}

func TestResetPasswordLengthBoundary(t *testing.T) {
	h := newHarness(t, Options{})
	token := legacyToken(alice.ID, h.clock.Now())

	err := h.svc.ResetPassword(context.Background(), "2348012345678", token, "12345")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeWeakCredential))
	assert.Zero(t, h.backend.updateCalls)

	require.NoError(t, h.svc.ResetPassword(context.Background(), "2348012345678", token, "123456"))
	assert.Equal(t, "123456", h.backend.passwords[alice.ID])
}

func TestResetPasswordUndecodableToken(t *testing.T) {
	h := newHarness(t, Options{})

	err := h.svc.ResetPassword(context.Background(), "2348012345678", "not*base64*at#all", "s3cret!")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidTokenFormat))
	assert.Zero(t, h.backend.updateCalls)

	wrongShape := base64.StdEncoding.EncodeToString([]byte("user-a:yesterday"))
	err = h.svc.ResetPassword(context.Background(), "2348012345678", wrongShape, "s3cret!")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidTokenFormat))
	assert.Zero(t, h.backend.updateCalls)
}

func TestResetPasswordValidationOrder(t *testing.T) {
	h := newHarness(t, Options{})

	err := h.svc.ResetPassword(context.Background(), "2348012345678", "", "s3cret!")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeBadRequest))

	// Weak password is reported before the unknown phone.
	err = h.svc.ResetPassword(context.Background(), "+44 20 7946 0000", "garbage", "123")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeWeakCredential))

	// Unknown phone is reported before the malformed token.
	err = h.svc.ResetPassword(context.Background(), "+44 20 7946 0000", "garbage", "s3cret!")
	assert.True(t, apperror.IsNotFound(err))
}

func TestResetPasswordCredentialFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.updateErr = errors.New("auth provider timeout")

	err := h.svc.ResetPassword(context.Background(), "2348012345678", legacyToken(alice.ID, h.clock.Now()), "s3cret!")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeUpstreamFailure))
	assert.Equal(t, 500, apperror.As(err).HTTPStatus)
}

func TestResetPasswordCleansUpVerifiedOTPs(t *testing.T) {
	h := newHarness(t, Options{}, "111111", "222222")
	ctx := context.Background()
	_, err := h.svc.IssueOTP(ctx, "2348012345678")
	require.NoError(t, err)
	_, err = h.svc.IssueOTP(ctx, "2348012345678")
	require.NoError(t, err)

	grant, err := h.svc.VerifyOTP(ctx, "2348012345678", "222222")
	require.NoError(t, err)
	require.NoError(t, h.svc.ResetPassword(ctx, "2348012345678", grant.Token, "n3w-pass"))

	records := h.backend.records()
	require.Len(t, records, 1)
	assert.Equal(t, "111111", records[0].Code)
}

func TestResetPasswordCleanupFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.deleteErr = errors.New("lock timeout")

	err := h.svc.ResetPassword(context.Background(), "2348012345678", legacyToken(alice.ID, h.clock.Now()), "s3cret!")
	assert.NoError(t, err)
}

func TestFullFlowWithSignedTokens(t *testing.T) {
	h := newHarness(t, Options{})
	h.svc.tokens = NewSignedTokenCodec("test-secret")
	ctx := context.Background()

	_, err := h.svc.IssueOTP(ctx, "+234 801 234 5678")
	require.NoError(t, err)
	grant, err := h.svc.VerifyOTP(ctx, "+234 801 234 5678", h.sender.last().code)
	require.NoError(t, err)

	err = h.svc.ResetPassword(ctx, "+234 801 234 5678", legacyToken(alice.ID, h.clock.Now()), "s3cret!")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidTokenFormat), "legacy tokens are refused once signing is on")

	require.NoError(t, h.svc.ResetPassword(ctx, "+234 801 234 5678", grant.Token, "s3cret!"))
	assert.Equal(t, "s3cret!", h.backend.passwords[alice.ID])
}

func TestSignedTokenValidUntilFullTTL(t *testing.T) {
	h := newHarness(t, Options{})
	h.clock.t = time.Date(2026, 3, 1, 12, 0, 0, 900*int(time.Millisecond), time.UTC)
	h.svc.tokens = NewSignedTokenCodec("k")
	ctx := context.Background()

	_, err := h.svc.IssueOTP(ctx, "2348012345678")
	require.NoError(t, err)
	grant, err := h.svc.VerifyOTP(ctx, "2348012345678", h.sender.last().code)
	require.NoError(t, err)

	h.clock.Advance(14*time.Minute + 59*time.Second + 500*time.Millisecond)
	require.NoError(t, h.svc.ResetPassword(ctx, "2348012345678", grant.Token, "s3cret!"))

	h.clock.Advance(time.Second)
	err = h.svc.ResetPassword(ctx, "2348012345678", grant.Token, "s3cret!")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeTokenExpired))
}
