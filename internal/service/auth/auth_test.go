package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
	"github.com/nkiryanov/shopguard/internal/repository"
	"github.com/nkiryanov/shopguard/internal/repository/memory"
	"github.com/nkiryanov/shopguard/internal/repository/postgres"
	"github.com/nkiryanov/shopguard/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/shopguard/internal/service/revocation"
	"github.com/nkiryanov/shopguard/internal/testutil"
)

// Code sender remembering the last code per mobile
type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBox) SendCode(_ context.Context, mobile string, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codes == nil {
		b.codes = make(map[string]string)
	}
	b.codes[mobile] = code
	return nil
}

func (b *codeBox) last(mobile string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[mobile]
}

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	s     *AuthService
	clock *testutil.Clock
	codes *codeBox
}

func newTestEnv(t *testing.T, storage repository.Storage) testEnv {
	t.Helper()

	clock := testutil.NewClock(testStart)
	codes := &codeBox{}

	ledger, err := revocation.New(storage, revocation.Config{WatermarkTTL: 24 * time.Hour, Now: clock.Now})
	require.NoError(t, err)

	tokens, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  "test-secret-key",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Now:        clock.Now,
	}, ledger)
	require.NoError(t, err)

	s, err := NewService(Config{
		Hasher:     BcryptHasher{Cost: bcrypt.MinCost},
		CodeSender: codes,
		Now:        clock.Now,
	}, tokens, ledger, storage)
	require.NoError(t, err)

	return testEnv{s: s, clock: clock, codes: codes}
}

func (e testEnv) authenticate(t *testing.T, access string) (models.Claims, error) {
	r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	r.Header.Set("Authorization", "Bearer "+access)
	return e.s.Authenticate(t.Context(), r)
}

func Test_Auth(t *testing.T) {
	t.Parallel()

	t.Run("new auth service defaults", func(t *testing.T) {
		s, err := NewService(Config{}, nil, nil, nil)
		require.NoError(t, err)

		require.Equal(t, defaultAccessHeaderName, s.accessHeaderName)
		require.Equal(t, defaultAccessAuthScheme, s.accessAuthScheme)
		require.Equal(t, defaultRefreshCookieName, s.refreshCookieName)
		require.Equal(t, defaultCodeTTL, s.codeTTL)
		require.Equal(t, BcryptHasher{}, s.hasher, "default hasher should be set to BcryptHasher")
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("new customer ok", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())

			pair, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)

			claims, err := e.authenticate(t, pair.Access.Value)
			require.NoError(t, err)
			assert.Equal(t, models.SubjectCustomer, claims.SubjectType)
			assert.Equal(t, "nkiryanov", claims.Username)
			assert.Equal(t, testStart.Add(15*time.Minute), pair.Access.ExpiresAt)
			assert.Equal(t, testStart.Add(24*time.Hour), pair.Refresh.ExpiresAt)
		})

		t.Run("fail if user exists", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			_, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)

			_, err = e.s.Register(t.Context(), "nkiryanov", "other-pwd")

			require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("existing user ok", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			_, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)

			pair, err := e.s.Login(t.Context(), "nkiryanov", "pwd")

			require.NoError(t, err)
			require.NotEmpty(t, pair.Access.Value)
			require.NotEmpty(t, pair.Refresh.Value)
		})

		t.Run("admin gets admin tokens", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			_, err := e.s.CreateUser(t.Context(), models.User{Type: models.SubjectAdmin, Username: "root", Email: "root@shop.test"}, "pwd")
			require.NoError(t, err)

			pair, err := e.s.Login(t.Context(), "root", "pwd")
			require.NoError(t, err)

			claims, err := e.authenticate(t, pair.Access.Value)
			require.NoError(t, err)
			assert.Equal(t, models.SubjectAdmin, claims.SubjectType)
			assert.Equal(t, "root@shop.test", claims.Email)
		})

		tests := []struct {
			name     string
			login    string
			password string
		}{
			{"wrong password", "nkiryanov", "wrong"},
			{"user not exists", "not-existed-user", "pwd"},
			{"empty password", "nkiryanov", ""},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				e := newTestEnv(t, memory.NewStorage())
				_, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
				require.NoError(t, err)

				_, err = e.s.Login(t.Context(), tt.login, tt.password)

				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		}

		t.Run("code only customer can't login with password", func(t *testing.T) {
			storage := memory.NewStorage()
			e := newTestEnv(t, storage)
			_, err := storage.User().CreateUser(t.Context(), models.User{Type: models.SubjectCustomer, Username: "mobileonly", Mobile: "+15550001"})
			require.NoError(t, err)

			_, err = e.s.Login(t.Context(), "mobileonly", "")

			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("One-time code", func(t *testing.T) {
		const mobile = "+1234567890"

		t.Run("first login registers customer", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			require.NoError(t, e.s.RequestCode(t.Context(), mobile))
			code := e.codes.last(mobile)
			require.Len(t, code, 6)

			pair, err := e.s.VerifyCode(t.Context(), mobile, code)
			require.NoError(t, err)

			claims, err := e.authenticate(t, pair.Access.Value)
			require.NoError(t, err)
			assert.Equal(t, models.SubjectCustomer, claims.SubjectType)

			// Next login gets the same customer
			require.NoError(t, e.s.RequestCode(t.Context(), mobile))
			pair, err = e.s.VerifyCode(t.Context(), mobile, e.codes.last(mobile))
			require.NoError(t, err)
			again, err := e.authenticate(t, pair.Access.Value)
			require.NoError(t, err)
			assert.Equal(t, claims.SubjectID, again.SubjectID)
		})

		t.Run("code works once", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			require.NoError(t, e.s.RequestCode(t.Context(), mobile))
			code := e.codes.last(mobile)

			_, err := e.s.VerifyCode(t.Context(), mobile, code)
			require.NoError(t, err)

			_, err = e.s.VerifyCode(t.Context(), mobile, code)
			require.ErrorIs(t, err, apperrors.ErrCodeInvalid)
		})

		t.Run("wrong code burns the code", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			require.NoError(t, e.s.RequestCode(t.Context(), mobile))
			code := e.codes.last(mobile)
			wrong := "000000"
			if code == wrong {
				wrong = "111111"
			}

			_, err := e.s.VerifyCode(t.Context(), mobile, wrong)
			require.ErrorIs(t, err, apperrors.ErrCodeInvalid)

			_, err = e.s.VerifyCode(t.Context(), mobile, code)
			require.ErrorIs(t, err, apperrors.ErrCodeInvalid)
		})

		t.Run("expired code", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			require.NoError(t, e.s.RequestCode(t.Context(), mobile))
			e.clock.Advance(defaultCodeTTL)

			_, err := e.s.VerifyCode(t.Context(), mobile, e.codes.last(mobile))

			require.ErrorIs(t, err, apperrors.ErrCodeInvalid)
		})

		t.Run("no sender configured", func(t *testing.T) {
			s, err := NewService(Config{}, nil, nil, memory.NewStorage())
			require.NoError(t, err)

			err = s.RequestCode(t.Context(), mobile)

			require.Error(t, err)
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("refresh once ok", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			initial, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)

			next, err := e.s.Refresh(t.Context(), initial.Refresh.Value)

			require.NoError(t, err)
			require.NotEqual(t, initial.Access.ID, next.Access.ID)
			require.NotEqual(t, initial.Refresh.Value, next.Refresh.Value)
		})

		t.Run("fail if used once", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			initial, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			_, err = e.s.Refresh(t.Context(), initial.Refresh.Value)
			require.NoError(t, err)

			_, err = e.s.Refresh(t.Context(), initial.Refresh.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
		})

		t.Run("fail if expired", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			initial, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			e.clock.Advance(25 * time.Hour)

			_, err = e.s.Refresh(t.Context(), initial.Refresh.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		})

		t.Run("access token is not refresh one", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			initial, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)

			_, err = e.s.Refresh(t.Context(), initial.Access.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
		})

		t.Run("concurrent refresh has one winner", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			initial, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)

			var wg sync.WaitGroup
			var ok, revoked atomic.Int32
			for range 32 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := e.s.Refresh(context.Background(), initial.Refresh.Value)
					switch {
					case err == nil:
						ok.Add(1)
					case assert.ErrorIs(t, err, apperrors.ErrTokenRevoked):
						revoked.Add(1)
					}
				}()
			}
			wg.Wait()

			require.Equal(t, int32(1), ok.Load())
			require.Equal(t, int32(31), revoked.Load())
		})
	})

	t.Run("Logout", func(t *testing.T) {
		t.Run("revokes both tokens", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			pair, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			claims, err := e.authenticate(t, pair.Access.Value)
			require.NoError(t, err)

			err = e.s.Logout(t.Context(), claims, pair.Refresh.Value)
			require.NoError(t, err)

			_, err = e.authenticate(t, pair.Access.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
			_, err = e.s.Refresh(t.Context(), pair.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
		})

		t.Run("other subject refresh token ignored", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			mine, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			theirs, err := e.s.Register(t.Context(), "someone", "pwd")
			require.NoError(t, err)
			claims, err := e.authenticate(t, mine.Access.Value)
			require.NoError(t, err)

			err = e.s.Logout(t.Context(), claims, theirs.Refresh.Value)
			require.NoError(t, err)

			_, err = e.s.Refresh(t.Context(), theirs.Refresh.Value)
			require.NoError(t, err, "foreign refresh token must stay valid")
		})
	})

	t.Run("ChangePassword", func(t *testing.T) {
		t.Run("revokes every session and issues new pair", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			first, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			second, err := e.s.Login(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			claims, err := e.authenticate(t, second.Access.Value)
			require.NoError(t, err)

			fresh, err := e.s.ChangePassword(t.Context(), claims, "pwd", "new-pwd")
			require.NoError(t, err)

			for _, old := range []models.TokenPair{first, second} {
				_, err = e.authenticate(t, old.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
				_, err = e.s.Refresh(t.Context(), old.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
			}

			_, err = e.authenticate(t, fresh.Access.Value)
			require.NoError(t, err, "pair issued with the new password must be valid")

			e.clock.Advance(time.Second)
			_, err = e.s.Refresh(t.Context(), fresh.Refresh.Value)
			require.NoError(t, err)

			_, err = e.s.Login(t.Context(), "nkiryanov", "pwd")
			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			_, err = e.s.Login(t.Context(), "nkiryanov", "new-pwd")
			require.NoError(t, err)
		})

		t.Run("wrong old password", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			pair, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			claims, err := e.authenticate(t, pair.Access.Value)
			require.NoError(t, err)

			_, err = e.s.ChangePassword(t.Context(), claims, "wrong", "new-pwd")
			require.ErrorIs(t, err, apperrors.ErrUserNotFound)

			_, err = e.authenticate(t, pair.Access.Value)
			require.NoError(t, err, "session must survive failed password change")
		})
	})

	t.Run("Admin revocations", func(t *testing.T) {
		t.Run("revoke subject", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			pair, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			claims, err := e.authenticate(t, pair.Access.Value)
			require.NoError(t, err)

			err = e.s.RevokeSubject(t.Context(), claims.SubjectID, claims.SubjectType, models.ReasonSecurityRevoke)
			require.NoError(t, err)

			_, err = e.authenticate(t, pair.Access.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenRevoked)

			active, err := e.s.ListRevocations(t.Context(), claims.SubjectID, claims.SubjectType)
			require.NoError(t, err)
			require.NotNil(t, active.Watermark)
			require.Equal(t, models.ReasonSecurityRevoke, active.Watermark.Reason)
		})

		t.Run("revoke token by id lasts the class lifetime", func(t *testing.T) {
			e := newTestEnv(t, memory.NewStorage())
			pair, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			claims, err := e.authenticate(t, pair.Access.Value)
			require.NoError(t, err)

			created, err := e.s.RevokeTokenByID(t.Context(), models.RevocationRecord{
				TokenID:     pair.Access.ID,
				Class:       models.TokenAccess,
				SubjectID:   claims.SubjectID,
				SubjectType: claims.SubjectType,
				Reason:      models.ReasonAdminRevoke,
			})
			require.NoError(t, err)
			require.True(t, created)

			_, err = e.authenticate(t, pair.Access.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenRevoked)

			active, err := e.s.ListRevocations(t.Context(), claims.SubjectID, claims.SubjectType)
			require.NoError(t, err)
			require.Len(t, active.Records, 1)
			require.Equal(t, testStart.Add(15*time.Minute), active.Records[0].ExpiresAt)
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		e := newTestEnv(t, memory.NewStorage())
		pair, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
		require.NoError(t, err)

		tests := []struct {
			name   string
			header string
		}{
			{"no header", ""},
			{"no scheme", pair.Access.Value},
			{"other scheme", "Basic " + pair.Access.Value},
			{"empty token", "Bearer "},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				if tt.header != "" {
					r.Header.Set("Authorization", tt.header)
				}

				_, err := e.s.Authenticate(t.Context(), r)

				require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
			})
		}

		t.Run("scheme is case insensitive", func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", "bearer "+pair.Access.Value)

			_, err := e.s.Authenticate(t.Context(), r)

			require.NoError(t, err)
		})
	})

	t.Run("SetTokens", func(t *testing.T) {
		e := newTestEnv(t, memory.NewStorage())
		pair, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
		require.NoError(t, err)
		w := httptest.NewRecorder()

		e.s.SetTokens(t.Context(), w, pair)

		require.Equal(t, "Bearer "+pair.Access.Value, w.Header().Get("Authorization"))
		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		c := cookies[0]
		require.Equal(t, "refreshtoken", c.Name)
		require.Equal(t, pair.Refresh.Value, c.Value)
		require.True(t, c.HttpOnly)
		require.Equal(t, http.SameSiteStrictMode, c.SameSite)
		require.Equal(t, int((24 * time.Hour).Seconds()), c.MaxAge)

		r := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		r.AddCookie(c)
		got, err := e.s.GetRefresh(r)
		require.NoError(t, err)
		require.Equal(t, pair.Refresh.Value, got)
	})

	t.Run("GetRefresh without cookie", func(t *testing.T) {
		e := newTestEnv(t, memory.NewStorage())

		_, err := e.s.GetRefresh(httptest.NewRequest(http.MethodPost, "/", nil))

		require.Error(t, err)
	})
}

func Test_Auth_Postgres(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withTx := func(t *testing.T, fn func(e testEnv)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			fn(newTestEnv(t, postgres.NewStorage(tx)))
		})
	}

	t.Run("register login refresh", func(t *testing.T) {
		withTx(t, func(e testEnv) {
			_, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			pair, err := e.s.Login(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)

			_, err = e.s.Refresh(t.Context(), pair.Refresh.Value)
			require.NoError(t, err)
			_, err = e.s.Refresh(t.Context(), pair.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
		})
	})

	t.Run("one-time code", func(t *testing.T) {
		withTx(t, func(e testEnv) {
			require.NoError(t, e.s.RequestCode(t.Context(), "+15550002"))

			_, err := e.s.VerifyCode(t.Context(), "+15550002", e.codes.last("+15550002"))

			require.NoError(t, err)
		})
	})

	t.Run("change password", func(t *testing.T) {
		withTx(t, func(e testEnv) {
			pair, err := e.s.Register(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)
			claims, err := e.authenticate(t, pair.Access.Value)
			require.NoError(t, err)

			fresh, err := e.s.ChangePassword(t.Context(), claims, "pwd", "new-pwd")
			require.NoError(t, err)

			_, err = e.authenticate(t, pair.Access.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
			_, err = e.authenticate(t, fresh.Access.Value)
			require.NoError(t, err)
		})
	})
}
