// This file implements the management operations behind the instance API:
// provider session lifecycle, pairing, status refresh, agent configuration,
// and on-demand mirror synchronization.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/rfdias/zapagent/internal/domain"
	"github.com/rfdias/zapagent/internal/provider"
	"github.com/rfdias/zapagent/internal/reconcile"
	"github.com/rfdias/zapagent/internal/repo"
)

// nameRE constrains instance names to what the provider accepts in URL paths.
var nameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{2,63}$`)

// webhookEvents is the push-event subscription registered on instance
// creation. It matches exactly what the dispatcher consumes.
var webhookEvents = []string{
	"MESSAGES_UPSERT",
	"MESSAGES_UPDATE",
	"CONTACTS_UPSERT",
	"CHATS_UPSERT",
	"CHATS_UPDATE",
	"CONNECTION_UPDATE",
}

// ProviderAdmin is the subset of the provider client used by management
// operations.
type ProviderAdmin interface {
	CreateInstance(ctx context.Context, name string) (*provider.InstanceInfo, error)
	DeleteInstance(ctx context.Context, name string) error
	RestartInstance(ctx context.Context, name string) error
	Logout(ctx context.Context, name string) error
	ConnectionState(ctx context.Context, name string) (*provider.ConnectionState, error)
	QRCode(ctx context.Context, name string) (*provider.QRCode, error)
	SetWebhook(ctx context.Context, name string, wh provider.WebhookConfig) error
}

// InstanceService owns the instance lifecycle and agent configuration.
type InstanceService struct {
	db        *gorm.DB
	pc        ProviderAdmin
	rec       *reconcile.Engine
	disp      *Dispatcher
	publicURL string
	log       zerolog.Logger
}

// NewInstanceService wires the management service. publicURL is this
// process's externally reachable base URL, used to register the webhook on
// instance creation; when empty, registration is skipped.
func NewInstanceService(db *gorm.DB, pc ProviderAdmin, rec *reconcile.Engine, disp *Dispatcher, publicURL string) *InstanceService {
	return &InstanceService{
		db:        db,
		pc:        pc,
		rec:       rec,
		disp:      disp,
		publicURL: publicURL,
		log:       log.With().Str("component", "instances").Logger(),
	}
}

// Create registers the session on the provider, persists the local row, and
// registers this process's webhook. A provider-side failure aborts creation;
// a webhook registration failure does not (the instance stays usable for
// pull sync and the registration can be retried by recreating).
func (s *InstanceService) Create(ctx context.Context, name string) (*domain.Instance, error) {
	if !nameRE.MatchString(name) {
		return nil, ErrInvalidName
	}
	if _, err := repo.GetInstanceByName(ctx, s.db, name); err == nil {
		return nil, ErrInstanceExists
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	if _, err := s.pc.CreateInstance(ctx, name); err != nil {
		return nil, fmt.Errorf("provider create: %w", err)
	}

	inst, err := repo.CreateInstance(ctx, s.db, name)
	if err != nil {
		return nil, err
	}

	if s.publicURL != "" {
		url := s.publicURL + "/webhook"
		err := s.pc.SetWebhook(ctx, name, provider.WebhookConfig{
			URL:     url,
			Enabled: true,
			Events:  webhookEvents,
		})
		if err != nil {
			s.log.Error().Err(err).Str("instance", name).Msg("webhook registration failed")
		} else {
			updates := map[string]any{"webhook_set": true, "webhook_url": url}
			if err := repo.UpdateInstance(ctx, s.db, inst.ID, updates); err != nil {
				s.log.Error().Err(err).Str("instance", name).Msg("webhook flag update failed")
			} else {
				inst.WebhookSet = true
				inst.WebhookURL = url
			}
		}
	}

	s.log.Info().Str("instance", name).Str("id", inst.ID).Msg("instance created")
	return inst, nil
}

// Get fetches one instance by id.
func (s *InstanceService) Get(ctx context.Context, id string) (*domain.Instance, error) {
	inst, err := repo.GetInstance(ctx, s.db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInstanceNotFound
	}
	return inst, err
}

// List returns one page of instances plus the total count.
func (s *InstanceService) List(ctx context.Context, offset, limit int) ([]domain.Instance, int64, error) {
	return repo.ListInstances(ctx, s.db, offset, limit)
}

// Delete removes the instance. The provider-side delete is best-effort: the
// local row is soft-deleted even when the provider is unreachable, so a dead
// provider cannot pin local state forever.
func (s *InstanceService) Delete(ctx context.Context, id string) error {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.pc.DeleteInstance(ctx, inst.Name); err != nil && !errors.Is(err, provider.ErrNotFound) {
		s.log.Error().Err(err).Str("instance", inst.Name).Msg("provider delete failed; removing locally anyway")
	}
	if err := repo.DeleteInstance(ctx, s.db, inst.ID); err != nil {
		return err
	}
	s.disp.InvalidateInstance(inst.Name)
	s.log.Info().Str("instance", inst.Name).Msg("instance deleted")
	return nil
}

// refreshStatus queries the provider for the live session state and
// reconciles the local row. The stored status only ever reflects what the
// provider reported, never a locally assumed transition. Best-effort: a
// failed query leaves the row on its last observed value.
func (s *InstanceService) refreshStatus(ctx context.Context, inst *domain.Instance) {
	st, err := s.pc.ConnectionState(ctx, inst.Name)
	if err != nil {
		s.log.Warn().Err(err).Str("instance", inst.Name).Msg("connection state query failed")
		return
	}
	if err := s.rec.ApplyConnection(ctx, inst.Name, st.State, st.Number); err != nil {
		s.log.Error().Err(err).Str("instance", inst.Name).Msg("status reconcile failed")
	}
}

// Connect fetches the pairing code and reconciles the observed session state.
func (s *InstanceService) Connect(ctx context.Context, id string) (*provider.QRCode, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	qr, err := s.pc.QRCode(ctx, inst.Name)
	if err != nil {
		return nil, err
	}
	s.refreshStatus(ctx, inst)
	s.disp.InvalidateInstance(inst.Name)
	return qr, nil
}

// Restart bounces the provider session and reconciles the state the provider
// reports afterwards.
func (s *InstanceService) Restart(ctx context.Context, id string) error {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.pc.RestartInstance(ctx, inst.Name); err != nil {
		return err
	}
	s.refreshStatus(ctx, inst)
	s.disp.InvalidateInstance(inst.Name)
	s.log.Info().Str("instance", inst.Name).Msg("instance restarted")
	return nil
}

// Logout unlinks the provider session. The instance row survives and can be
// paired again via Connect.
func (s *InstanceService) Logout(ctx context.Context, id string) error {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.pc.Logout(ctx, inst.Name); err != nil && !errors.Is(err, provider.ErrNotFound) {
		return err
	}
	s.refreshStatus(ctx, inst)
	s.disp.InvalidateInstance(inst.Name)
	s.log.Info().Str("instance", inst.Name).Msg("instance logged out")
	return nil
}

// Status queries the provider for the live session state, reconciles the
// local row, and returns the refreshed instance. The stored status is the
// observed one, never the locally intended one.
func (s *InstanceService) Status(ctx context.Context, id string) (*domain.Instance, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.pc.ConnectionState(ctx, inst.Name)
	if err != nil {
		return nil, err
	}
	if err := s.rec.ApplyConnection(ctx, inst.Name, st.State, st.Number); err != nil {
		return nil, err
	}
	s.disp.InvalidateInstance(inst.Name)
	return s.Get(ctx, id)
}

// Sync runs a pull reconciliation for the instance.
func (s *InstanceService) Sync(ctx context.Context, id string) (*reconcile.SyncSummary, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.rec.PullSync(ctx, inst)
}

// SaveAgent creates or replaces the instance's agent configuration.
func (s *InstanceService) SaveAgent(ctx context.Context, instanceID string, ac *domain.AgentConfig) (*domain.AgentConfig, error) {
	inst, err := s.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	ac.InstanceID = inst.ID
	saved, err := repo.UpsertAgentConfig(ctx, s.db, ac)
	if err != nil {
		return nil, err
	}
	s.disp.InvalidateInstance(inst.Name)
	return saved, nil
}

// GetAgent fetches the instance's agent configuration.
func (s *InstanceService) GetAgent(ctx context.Context, instanceID string) (*domain.AgentConfig, error) {
	inst, err := s.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	ac, err := repo.GetAgentConfig(ctx, s.db, inst.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	return ac, err
}
