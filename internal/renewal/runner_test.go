package renewal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/keepalive/internal/common"
	"github.com/ternarybob/keepalive/internal/models"
	"github.com/ternarybob/keepalive/internal/notify"
	"github.com/ternarybob/keepalive/internal/secrets"
	"github.com/ternarybob/keepalive/internal/session"
)

func newTestRunner(t *testing.T, policy *fakePolicy, cfg *common.Config) *Runner {
	t.Helper()
	logger := arbor.NewLogger()
	return &Runner{
		cfg:      cfg,
		policy:   policy,
		orch:     newTestOrchestrator(policy, cfg),
		notifier: notify.New("", "", logger),
		store:    secrets.NewStore("", "", logger),
		clock:    common.NewClock("UTC"),
		logger:   logger,
		sleep:    func(time.Duration) {},
	}
}

func TestRunnerProcessesEveryAccount(t *testing.T) {
	cfg := testConfig()
	cfg.Accounts = []models.Credential{
		{Cookie: "session=a"},
		{Cookie: "session=b"},
		{Cookie: "session=c"},
	}
	policy := &fakePolicy{
		servers: []models.ServerRecord{{ID: "1", Name: "srv", Active: true}},
		expiry:  map[string]models.ExpiryInfo{"1": {Display: "1天", Days: 1}},
	}
	r := newTestRunner(t, policy, cfg)

	summary := r.Run(context.Background())

	require.Len(t, summary.Accounts, 3)
	assert.NotEmpty(t, summary.RunID)
	assert.NotEmpty(t, summary.Elapsed)
	assert.Equal(t, "fake", summary.Provider)
	assert.True(t, summary.Ok())

	total, ok := summary.Count()
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, ok)

	for i, acct := range summary.Accounts {
		assert.Equal(t, i+1, acct.Account.Index)
	}
}

func TestRunnerAccountFailureDoesNotAbortRun(t *testing.T) {
	cfg := testConfig()
	cfg.Accounts = []models.Credential{
		{Cookie: "session=a"},
		{Cookie: "session=b"},
	}
	policy := &fakePolicy{discoverErr: fmt.Errorf("boom")}
	r := newTestRunner(t, policy, cfg)

	summary := r.Run(context.Background())

	require.Len(t, summary.Accounts, 2, "every account is attempted even when the first fails")
	assert.False(t, summary.Ok())
}

func TestBuildReport(t *testing.T) {
	cfg := testConfig()
	r := newTestRunner(t, &fakePolicy{}, cfg)

	summary := &models.RunSummary{
		Provider: "fake",
		RunID:    "run-1",
		Elapsed:  "42s",
		Accounts: []*models.AccountResult{
			{
				Account: models.Account{Index: 1, Label: "账号1", Credential: models.Credential{Cookie: "session=a"}},
				Servers: []models.ServerOutcome{
					{
						Server: models.ServerRecord{ID: "1", Name: "alpha <prod>"},
						Outcome: models.Renewed(
							models.ExpiryInfo{Display: "1天2时3分", Days: 1.08},
							models.ExpiryInfo{Display: "7天0时0分", Days: 7},
						),
					},
				},
			},
			{
				Account: models.Account{Index: 2, Label: "账号2", Credential: models.Credential{Cookie: "session=b"}},
				Error:   fmt.Errorf("%w: redirected to /login", session.ErrSessionExpired),
			},
			{
				Account: models.Account{Index: 3, Label: "账号3", Credential: models.Credential{Cookie: "session=c"}},
			},
		},
	}

	report := r.buildReport(summary)

	assert.Contains(t, report, "自动续期报告")
	assert.Contains(t, report, "账号1")
	assert.Contains(t, report, "续期成功: 1天2时3分 → 7天0时0分")
	assert.Contains(t, report, "alpha &lt;prod&gt;", "server names must be HTML-escaped")
	assert.Contains(t, report, "❌ Cookie 已过期")
	assert.Contains(t, report, "未发现服务器")
	assert.Contains(t, report, "共 3 个账号, 成功 2 个")
	assert.Contains(t, report, "续期 1 · 跳过 0 · 暂缓 0 · 失败 0")
	assert.Contains(t, report, "42s")
}

func TestMergeCredentials(t *testing.T) {
	summary := &models.RunSummary{
		Accounts: []*models.AccountResult{
			{Account: models.Account{Credential: models.Credential{Cookie: "session=old1"}}},
			{
				Account:       models.Account{Credential: models.Credential{Cookie: "session=old2"}},
				NewCredential: "session=rotated2; theme=dark",
			},
			{Account: models.Account{Credential: models.Credential{Cookie: "session=old3"}}},
		},
	}

	assert.True(t, summary.CookieRefreshed())
	assert.Equal(t, "session=old1|||session=rotated2; theme=dark|||session=old3", mergeCredentials(summary))
}

func TestMergeCredentialsNoRotation(t *testing.T) {
	summary := &models.RunSummary{
		Accounts: []*models.AccountResult{
			{Account: models.Account{Credential: models.Credential{Cookie: "session=a"}}},
		},
	}

	assert.False(t, summary.CookieRefreshed())
	assert.Equal(t, "session=a", mergeCredentials(summary))
}

func TestProviderTitle(t *testing.T) {
	assert.Equal(t, "KataBump", providerTitle("katabump"))
	assert.Equal(t, "Lunes Host", providerTitle("lunes"))
	assert.Equal(t, "Weirdhost", providerTitle("weirdhost"))
	assert.Equal(t, "fake", providerTitle("fake"))
}
