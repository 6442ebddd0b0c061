package renewal

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/keepalive/internal/common"
	"github.com/ternarybob/keepalive/internal/models"
	"github.com/ternarybob/keepalive/internal/notify"
	"github.com/ternarybob/keepalive/internal/provider"
	"github.com/ternarybob/keepalive/internal/secrets"
	"github.com/ternarybob/keepalive/internal/session"
)

// accountCooldown paces consecutive accounts so one run does not look
// like a burst of logins from the same address.
const accountCooldown = 5 * time.Second

// Runner executes one complete run: every account sequentially, then
// the report, the screenshots and the credential write-back.
type Runner struct {
	cfg      *common.Config
	policy   provider.Policy
	orch     *Orchestrator
	notifier *notify.Notifier
	store    *secrets.Store
	clock    *common.Clock
	logger   arbor.ILogger
	sleep    func(time.Duration)
}

// NewRunner builds a runner from run configuration, instantiating the
// provider policy and the delivery side-channels.
func NewRunner(cfg *common.Config, logger arbor.ILogger) (*Runner, error) {
	policy, err := provider.New(cfg.Provider, provider.Options{
		ServerID:    cfg.ServerID,
		RestartWait: cfg.RestartWait,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:      cfg,
		policy:   policy,
		orch:     NewOrchestrator(policy, cfg, logger),
		notifier: notify.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger),
		store:    secrets.NewStore(cfg.Secrets.Token, cfg.Secrets.Repo, logger),
		clock:    common.NewClock(cfg.Timezone),
		logger:   logger,
		sleep:    time.Sleep,
	}, nil
}

// Run processes every configured account and returns the aggregated
// summary. The summary is always complete; delivery and persistence
// failures are logged, never raised.
func (r *Runner) Run(ctx context.Context) *models.RunSummary {
	start := time.Now()
	summary := &models.RunSummary{
		Provider: r.policy.Name(),
		RunID:    uuid.NewString(),
	}

	r.logger.Info().
		Str("provider", summary.Provider).
		Str("run_id", summary.RunID).
		Int("accounts", len(r.cfg.Accounts)).
		Msg("Run started")

	for i, cred := range r.cfg.Accounts {
		if i > 0 {
			r.sleep(accountCooldown)
		}
		account := models.Account{
			Index:      i + 1,
			Label:      fmt.Sprintf("账号%d", i+1),
			Credential: cred,
		}
		result := r.orch.ProcessAccount(ctx, account)
		summary.Accounts = append(summary.Accounts, result)
	}

	summary.Elapsed = time.Since(start).Round(time.Second).String()
	r.logger.Info().Str("summary", summary.String()).Msg("Run finished")

	r.deliverReport(ctx, summary)
	r.persistCredentials(ctx, summary)

	return summary
}

// deliverReport sends the run report, then one photo per server that
// was started with console evidence.
func (r *Runner) deliverReport(ctx context.Context, summary *models.RunSummary) {
	if !r.notifier.Configured() {
		r.logger.Debug().Msg("Notifier not configured, skipping report")
		return
	}

	r.notifier.SendText(ctx, r.buildReport(summary))

	for _, acct := range summary.Accounts {
		for _, srv := range acct.Servers {
			if srv.Started == nil || len(srv.Started.Screenshot) == 0 {
				continue
			}
			caption := fmt.Sprintf("%s · %s 已启动", acct.Account.Label, srv.Started.Server.Name)
			r.notifier.SendPhoto(ctx, srv.Started.Screenshot, caption)
		}
	}
}

// buildReport renders the HTML run report for Telegram.
func (r *Runner) buildReport(summary *models.RunSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>🔄 %s 自动续期报告</b>\n", providerTitle(summary.Provider))
	fmt.Fprintf(&b, "🕐 %s\n\n", r.clock.Timestamp())

	for _, acct := range summary.Accounts {
		fmt.Fprintf(&b, "<b>%s</b>\n", acct.Account.Label)
		switch {
		case acct.Error != nil && errors.Is(acct.Error, session.ErrSessionExpired):
			b.WriteString("❌ Cookie 已过期\n")
		case acct.Error != nil:
			fmt.Fprintf(&b, "❌ %s\n", html.EscapeString(acct.Error.Error()))
		case len(acct.Servers) == 0:
			b.WriteString("ℹ️ 未发现服务器\n")
		}
		for _, srv := range acct.Servers {
			fmt.Fprintf(&b, "· %s %s\n", html.EscapeString(srv.Server.Name), srv.Outcome.Describe())
		}
		b.WriteString("\n")
	}

	total, ok := summary.Count()
	counts := summary.OutcomeCounts()
	fmt.Fprintf(&b, "📊 共 %d 个账号, 成功 %d 个 | 续期 %d · 跳过 %d · 暂缓 %d · 失败 %d | 用时 %s",
		total, ok,
		counts[models.OutcomeRenewed], counts[models.OutcomeSkipped],
		counts[models.OutcomeNotYet], counts[models.OutcomeFailed],
		summary.Elapsed)
	return b.String()
}

// persistCredentials writes the merged cookie blob back to the CI
// secret when any account's cookie rotated. The blob preserves the
// original account order; unrotated entries keep their original value.
func (r *Runner) persistCredentials(ctx context.Context, summary *models.RunSummary) {
	if !summary.CookieRefreshed() {
		return
	}
	blob := mergeCredentials(summary)
	if !r.store.Configured() {
		r.logger.Warn().Msg("Cookies rotated but secret store not configured, rotation will be lost")
		return
	}

	name := r.cfg.SecretName()
	if r.store.UpdateSecret(ctx, name, blob) {
		r.logger.Info().Str("secret", name).Int("accounts", len(summary.Accounts)).Msg("Rotated cookies persisted")
	}
}

// mergeCredentials rebuilds the credential blob in account order, each
// rotated cookie replacing its original entry.
func mergeCredentials(summary *models.RunSummary) string {
	merged := make([]string, 0, len(summary.Accounts))
	for _, acct := range summary.Accounts {
		if acct.NewCredential != "" {
			merged = append(merged, acct.NewCredential)
			continue
		}
		merged = append(merged, acct.Account.Credential.Raw())
	}
	return strings.Join(merged, common.CredentialSeparator)
}

// providerTitle renders a provider key for the report header.
func providerTitle(name string) string {
	switch name {
	case "castlehost":
		return "Castle-Host"
	case "dataonline":
		return "DataOnline"
	case "katabump":
		return "KataBump"
	case "lunes":
		return "Lunes Host"
	case "pella":
		return "Pella"
	case "weirdhost":
		return "Weirdhost"
	default:
		return name
	}
}
