package member

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	apierrors "github.com/uncord-chat/uncord-protocol/errors"

	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

var testMemberIDGen = snowflake.NewGenerator(4, 1)

func newMemberID() snowflake.ID {
	return testMemberIDGen.Generate()
}

// fakeStatusRepo implements the subset of Repository exercised by RequireActiveMember.
type fakeStatusRepo struct {
	statuses map[snowflake.ID]string
}

func (f *fakeStatusRepo) GetStatus(_ context.Context, userID snowflake.ID) (string, error) {
	s, ok := f.statuses[userID]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

// Unused interface methods required by Repository.
func (f *fakeStatusRepo) List(context.Context, *snowflake.ID, int) ([]MemberWithProfile, error) {
	panic("not implemented")
}
func (f *fakeStatusRepo) GetByUserID(context.Context, snowflake.ID) (*MemberWithProfile, error) {
	panic("not implemented")
}
func (f *fakeStatusRepo) GetByUserIDAnyStatus(context.Context, snowflake.ID) (*MemberWithProfile, error) {
	panic("not implemented")
}
func (f *fakeStatusRepo) UpdateNickname(context.Context, snowflake.ID, *string) (*MemberWithProfile, error) {
	panic("not implemented")
}
func (f *fakeStatusRepo) Delete(context.Context, snowflake.ID) error { panic("not implemented") }
func (f *fakeStatusRepo) SetTimeout(context.Context, snowflake.ID, time.Time) (*MemberWithProfile, error) {
	panic("not implemented")
}
func (f *fakeStatusRepo) ClearTimeout(context.Context, snowflake.ID) (*MemberWithProfile, error) {
	panic("not implemented")
}
func (f *fakeStatusRepo) Ban(context.Context, snowflake.ID, snowflake.ID, *string, *time.Time) error {
	panic("not implemented")
}
func (f *fakeStatusRepo) Unban(context.Context, snowflake.ID) error { panic("not implemented") }
func (f *fakeStatusRepo) ListBans(context.Context, *snowflake.ID, int) ([]BanRecord, error) {
	panic("not implemented")
}
func (f *fakeStatusRepo) IsBanned(context.Context, snowflake.ID) (bool, error) { panic("not implemented") }
func (f *fakeStatusRepo) AssignRole(context.Context, snowflake.ID, snowflake.ID) error {
	panic("not implemented")
}
func (f *fakeStatusRepo) RemoveRole(context.Context, snowflake.ID, snowflake.ID) error {
	panic("not implemented")
}
func (f *fakeStatusRepo) CreatePending(context.Context, snowflake.ID) (*MemberWithProfile, error) {
	panic("not implemented")
}
func (f *fakeStatusRepo) Activate(context.Context, snowflake.ID, []snowflake.ID) (*MemberWithProfile, error) {
	panic("not implemented")
}

func TestRequireActiveMember(t *testing.T) {
	t.Parallel()

	activeID := newMemberID()
	pendingID := newMemberID()
	timedOutID := newMemberID()
	nonMemberID := newMemberID()

	repo := &fakeStatusRepo{
		statuses: map[snowflake.ID]string{
			activeID:   StatusActive,
			pendingID:  StatusPending,
			timedOutID: StatusTimedOut,
		},
	}
	mw := RequireActiveMember(repo)

	tests := []struct {
		name       string
		userID     snowflake.ID
		setLocals  bool
		wantStatus int
		wantCode   string
	}{
		{
			name:       "active member passes through",
			userID:     activeID,
			setLocals:  true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "timed out member passes through",
			userID:     timedOutID,
			setLocals:  true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "pending member is blocked",
			userID:     pendingID,
			setLocals:  true,
			wantStatus: http.StatusForbidden,
			wantCode:   string(apierrors.MembershipRequired),
		},
		{
			name:       "non member is blocked",
			userID:     nonMemberID,
			setLocals:  true,
			wantStatus: http.StatusForbidden,
			wantCode:   string(apierrors.MembershipRequired),
		},
		{
			name:       "missing locals is blocked",
			setLocals:  false,
			wantStatus: http.StatusUnauthorized,
			wantCode:   string(apierrors.Unauthorised),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := fiber.New()

			app.Use(func(c fiber.Ctx) error {
				if tt.setLocals {
					c.Locals("userID", tt.userID)
				}
				return c.Next()
			})
			app.Get("/test", mw, func(c fiber.Ctx) error {
				return c.SendStatus(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			if tt.wantCode != "" {
				bodyBytes, err := io.ReadAll(resp.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				var errResp struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
					t.Fatalf("unmarshal error: %v", err)
				}
				if errResp.Error.Code != tt.wantCode {
					t.Errorf("error code = %q, want %q", errResp.Error.Code, tt.wantCode)
				}
			}
		})
	}
}
