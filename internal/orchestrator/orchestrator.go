// Package orchestrator owns the lab instance lifecycle: allocation under
// quotas, TTL tracking, and idempotent teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ctf-range/internal/errs"
	"ctf-range/internal/logging"
	"ctf-range/internal/metrics"
	"ctf-range/internal/runtime"
	"ctf-range/internal/store"
	"ctf-range/pkg/models"
)

// Orchestrator is the lab lifecycle state machine. All bookkeeping goes
// through the store's labs record set; container work happens outside the
// lock so a slow engine never blocks unrelated invocations.
type Orchestrator struct {
	store          *store.Store
	runtime        runtime.Runtime
	catalog        map[string]models.LabTypeDef
	maxPerUser     int
	maxTotal       int
	ttl            time.Duration
	runtimeTimeout time.Duration
}

// New builds an orchestrator over the given store, runtime, and catalog.
func New(st *store.Store, rt runtime.Runtime, catalog map[string]models.LabTypeDef,
	maxPerUser, maxTotal int, ttl, runtimeTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:          st,
		runtime:        rt,
		catalog:        catalog,
		maxPerUser:     maxPerUser,
		maxTotal:       maxTotal,
		ttl:            ttl,
		runtimeTimeout: runtimeTimeout,
	}
}

// StartResult describes a successfully started lab.
type StartResult struct {
	Instance models.LabInstance `json:"instance"`
	URL      string             `json:"url"`
}

// LabView is one instance as reported by Status.
type LabView struct {
	Name             string  `json:"name"`
	Type             string  `json:"type"`
	Address          string  `json:"address"`
	Port             int     `json:"port"`
	Status           string  `json:"status"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// CleanedLab is one instance removed by AutoCleanup.
type CleanedLab struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// ServerStats is host usage plus the orchestrator's own occupancy.
type ServerStats struct {
	ActiveLabs int               `json:"active_labs"`
	MaxLabs    int               `json:"max_labs"`
	Host       runtime.HostStats `json:"host"`
}

// Start allocates a lab for the owner. Quota validation and the instance
// record write form one atomic unit; the container is created in between
// with the record held in `starting` so a concurrent start can't sneak past
// the quota. A failed create removes the placeholder record — the system
// prefers leaking a container for AutoCleanup to catch over keeping a
// phantom record that blocks quota.
func (o *Orchestrator) Start(ctx context.Context, owner, labType string) (*StartResult, error) {
	def, ok := o.catalog[labType]
	if !ok {
		return nil, errs.Newf(errs.CodeLabTypeNotFound,
			"Unknown lab type %q. Available: %s", labType, strings.Join(o.catalogNames(), ", "))
	}

	now := time.Now().UTC()
	instance := models.LabInstance{
		ID:            uuid.New().String(),
		Owner:         owner,
		LabType:       labType,
		ContainerName: containerName(owner, labType),
		Port:          def.Port,
		Status:        models.LabStarting,
		StartedAt:     now,
		ExpiresAt:     now.Add(o.ttl),
	}

	// Atomic unit: quota check + placeholder write.
	err := o.store.WithLock(store.RecordLabs, func(tx *gorm.DB) error {
		var mine []models.LabInstance
		if err := tx.Where("owner = ? AND status IN ?", owner,
			[]models.LabStatus{models.LabStarting, models.LabRunning}).
			Order("started_at asc").
			Find(&mine).Error; err != nil {
			return err
		}

		for _, l := range mine {
			if l.LabType == labType {
				return errs.Newf(errs.CodeQuotaExceeded,
					"You already have a %s lab running at %s:%d. Stop it before starting another.",
					labType, l.Address, l.Port)
			}
		}
		if len(mine) >= o.maxPerUser {
			running := make([]string, 0, len(mine))
			for _, l := range mine {
				running = append(running, l.LabType)
			}
			return errs.Newf(errs.CodeQuotaExceeded,
				"You already have %d labs running: %s. Stop one first.",
				o.maxPerUser, strings.Join(running, ", "))
		}

		var total int64
		if err := tx.Model(&models.LabInstance{}).
			Where("status IN ?", []models.LabStatus{models.LabStarting, models.LabRunning}).
			Count(&total).Error; err != nil {
			return err
		}
		if int(total) >= o.maxTotal {
			return errs.New(errs.CodeCapacityReached, "Server lab capacity reached. Try again later.")
		}

		return tx.Create(&instance).Error
	})
	if err != nil {
		return nil, err
	}

	createCtx, cancel := context.WithTimeout(ctx, o.runtimeTimeout)
	defer cancel()
	handle, err := o.runtime.CreateLab(createCtx, runtime.LabSpec{
		Name:  instance.ContainerName,
		Image: def.Image,
		Port:  def.Port,
		Owner: owner,
		Type:  labType,
		Tmpfs: def.Tmpfs,
	})
	if err != nil {
		if createCtx.Err() != nil {
			err = fmt.Errorf("%w: %v", createCtx.Err(), err)
		}
		o.reconcileFailedStart(instance, err)
		return nil, errs.Wrap(errs.CodeContainerRuntimeError,
			fmt.Sprintf("Failed to start %s. Try again or contact an officer.", labType), err)
	}

	err = o.store.WithLock(store.RecordLabs, func(tx *gorm.DB) error {
		return tx.Model(&models.LabInstance{}).Where("id = ?", instance.ID).
			Updates(map[string]interface{}{
				"container_id": handle.ContainerID,
				"address":      handle.Address,
				"status":       models.LabRunning,
			}).Error
	})
	if err != nil {
		// Record write failed after the container came up: leak the container
		// for AutoCleanup rather than leave a blocking placeholder.
		logging.L().Error("lab record update failed after create",
			zap.String("instance", instance.ID), zap.Error(err))
		o.reconcileFailedStart(instance, err)
		return nil, errs.Wrap(errs.CodeInternal, "Lab bookkeeping failed. Contact an officer.", err)
	}

	instance.ContainerID = handle.ContainerID
	instance.Address = handle.Address
	instance.Status = models.LabRunning

	o.recordLabStart(owner)
	o.store.Audit("LAB_STARTED", owner,
		fmt.Sprintf("lab=%s addr=%s:%d", instance.ContainerName, handle.Address, handle.Port))
	metrics.Get().LabStartsTotal.WithLabelValues(labType).Inc()
	o.updateActiveGauge()

	return &StartResult{
		Instance: instance,
		URL:      fmt.Sprintf("http://%s:%d", handle.Address, handle.Port),
	}, nil
}

// reconcileFailedStart clears the placeholder record. A definite create
// failure leaves nothing persistent. A timeout is ambiguous — a container
// may exist — so the record is kept as `failed` and AutoCleanup reconciles
// it on the next sweep.
func (o *Orchestrator) reconcileFailedStart(instance models.LabInstance, cause error) {
	logging.L().Error("lab start failed",
		zap.String("owner", instance.Owner),
		zap.String("lab_type", instance.LabType),
		zap.Error(cause))
	ambiguous := errors.Is(cause, context.DeadlineExceeded)
	_ = o.store.WithLock(store.RecordLabs, func(tx *gorm.DB) error {
		if ambiguous {
			return tx.Model(&models.LabInstance{}).Where("id = ?", instance.ID).
				Update("status", models.LabFailed).Error
		}
		return tx.Where("id = ?", instance.ID).Delete(&models.LabInstance{}).Error
	})
}

// Status lists the owner's instances, earliest started first.
func (o *Orchestrator) Status(owner string) ([]LabView, error) {
	var labs []models.LabInstance
	if err := o.store.DB().
		Where("owner = ? AND status IN ?", owner,
			[]models.LabStatus{models.LabStarting, models.LabRunning}).
		Order("started_at asc").
		Find(&labs).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "Could not load your labs.", err)
	}

	now := time.Now().UTC()
	views := make([]LabView, 0, len(labs))
	for _, l := range labs {
		views = append(views, LabView{
			Name:             l.ContainerName,
			Type:             l.LabType,
			Address:          l.Address,
			Port:             l.Port,
			Status:           string(l.Status),
			UptimeSeconds:    l.Uptime(now).Seconds(),
			RemainingSeconds: l.Remaining(now).Seconds(),
		})
	}
	return views, nil
}

// Stop tears down the owner's lab of the given type. Calling it again after
// success reports not-found rather than an error.
func (o *Orchestrator) Stop(ctx context.Context, owner, labType string) (bool, error) {
	var target models.LabInstance
	err := o.store.WithLock(store.RecordLabs, func(tx *gorm.DB) error {
		err := tx.Where("owner = ? AND lab_type = ? AND status IN ?", owner, labType,
			[]models.LabStatus{models.LabStarting, models.LabRunning}).
			Order("started_at asc").
			First(&target).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.LabInstance{}).Where("id = ?", target.ID).
			Update("status", models.LabStopping).Error
	})
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.CodeInternal, "Could not look up your lab.", err)
	}

	if err := o.teardown(ctx, target, "LAB_STOPPED", owner); err != nil {
		return false, err
	}
	return true, nil
}

// ForceCleanup removes all of the target owner's instances. Officer-only at
// the gate; the orchestrator does not re-check roles.
func (o *Orchestrator) ForceCleanup(ctx context.Context, owner string) ([]string, error) {
	var targets []models.LabInstance
	if err := o.store.DB().Where("owner = ?", owner).
		Order("started_at asc").Find(&targets).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "Could not load target labs.", err)
	}

	removed := make([]string, 0, len(targets))
	for _, l := range targets {
		if err := o.teardown(ctx, l, "FORCE_CLEANUP", owner); err != nil {
			logging.L().Error("force cleanup teardown failed",
				zap.String("container", l.ContainerName), zap.Error(err))
			continue
		}
		removed = append(removed, l.ContainerName)
	}
	return removed, nil
}

// AutoCleanup sweeps expired and failed instances. Safe to invoke on a
// schedule; a sweep with nothing expired is a no-op.
func (o *Orchestrator) AutoCleanup(ctx context.Context) ([]CleanedLab, error) {
	now := time.Now().UTC()
	var expired []models.LabInstance
	if err := o.store.DB().
		Where("expires_at < ? OR status = ?", now, models.LabFailed).
		Order("started_at asc").
		Find(&expired).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "Cleanup sweep failed.", err)
	}

	cleaned := make([]CleanedLab, 0, len(expired))
	for _, l := range expired {
		if err := o.teardown(ctx, l, "AUTO_CLEANUP", l.Owner); err != nil {
			logging.L().Error("auto cleanup teardown failed",
				zap.String("container", l.ContainerName), zap.Error(err))
			continue
		}
		cleaned = append(cleaned, CleanedLab{Name: l.ContainerName, Owner: l.Owner})
	}
	return cleaned, nil
}

// ServerStats reports host usage from the runtime plus lab occupancy.
func (o *Orchestrator) ServerStats(ctx context.Context) (*ServerStats, error) {
	statsCtx, cancel := context.WithTimeout(ctx, o.runtimeTimeout)
	defer cancel()
	host, err := o.runtime.Stats(statsCtx)
	if err != nil {
		return nil, errs.Wrap(errs.CodeContainerRuntimeError, "Could not query host stats.", err)
	}

	var active int64
	if err := o.store.DB().Model(&models.LabInstance{}).
		Where("status IN ?", []models.LabStatus{models.LabStarting, models.LabRunning}).
		Count(&active).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "Could not count active labs.", err)
	}

	return &ServerStats{ActiveLabs: int(active), MaxLabs: o.maxTotal, Host: host}, nil
}

// Catalog returns the lab types sorted by name.
func (o *Orchestrator) Catalog() []models.LabTypeDef {
	defs := make([]models.LabTypeDef, 0, len(o.catalog))
	for _, d := range o.catalog {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// teardown stops and removes the container, then deletes the record. The
// runtime call is idempotent, so a record for an already-gone container
// still gets cleaned up.
func (o *Orchestrator) teardown(ctx context.Context, l models.LabInstance, event, actor string) error {
	if l.ContainerID != "" {
		rtCtx, cancel := context.WithTimeout(ctx, o.runtimeTimeout)
		defer cancel()
		if err := o.runtime.StopAndRemove(rtCtx, l.ContainerID); err != nil {
			return errs.Wrap(errs.CodeContainerRuntimeError,
				fmt.Sprintf("Failed to stop %s.", l.LabType), err)
		}
	}

	err := o.store.WithLock(store.RecordLabs, func(tx *gorm.DB) error {
		return tx.Where("id = ?", l.ID).Delete(&models.LabInstance{}).Error
	})
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "Lab record cleanup failed.", err)
	}

	o.store.Audit(event, actor, fmt.Sprintf("lab=%s owner=%s", l.ContainerName, l.Owner))
	metrics.Get().LabCleanupsTotal.WithLabelValues(event).Inc()
	o.updateActiveGauge()
	return nil
}

// recordLabStart bumps the owner's lifetime lab counter.
func (o *Orchestrator) recordLabStart(owner string) {
	err := o.store.WithLock(store.RecordStats, func(tx *gorm.DB) error {
		var stat models.UserStat
		err := tx.Where("owner = ?", owner).First(&stat).Error
		if err == gorm.ErrRecordNotFound {
			return tx.Create(&models.UserStat{
				Owner:       owner,
				LabsStarted: 1,
				FirstSeen:   time.Now().UTC(),
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&stat).Update("labs_started", stat.LabsStarted+1).Error
	})
	if err != nil {
		logging.L().Warn("lab start stat update failed", zap.String("owner", owner), zap.Error(err))
	}
}

func (o *Orchestrator) updateActiveGauge() {
	var active int64
	if err := o.store.DB().Model(&models.LabInstance{}).
		Where("status IN ?", []models.LabStatus{models.LabStarting, models.LabRunning}).
		Count(&active).Error; err == nil {
		metrics.Get().ActiveLabsGauge.Set(float64(active))
	}
}

func (o *Orchestrator) catalogNames() []string {
	names := make([]string, 0, len(o.catalog))
	for name := range o.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// containerName derives a unique name from (owner, labType). The uuid
// fragment disambiguates repeated starts of the same type so a prior
// instance is never silently overwritten.
func containerName(owner, labType string) string {
	return fmt.Sprintf("%s-%s-%s", labType, sanitizeName(owner), uuid.New().String()[:8])
}

func sanitizeName(in string) string {
	var b strings.Builder
	b.Grow(len(in))
	for _, r := range strings.ToLower(in) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
