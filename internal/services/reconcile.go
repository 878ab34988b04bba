package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"wlink-bridge/internal/models"
	"wlink-bridge/internal/store"
)

// Reconciler applies gateway-reported connection states to locally persisted
// instances. The gateway is authoritative: any transition is accepted, and no
// transition graph is enforced.
type Reconciler struct {
	store *store.Store
}

func NewReconciler(st *store.Store) *Reconciler {
	return &Reconciler{store: st}
}

// ApplyConnectionState writes the new state for the named instance. An
// unknown instance is a no-op, not an error: the local record may have been
// deleted while the gateway still had webhooks in flight, and that must not
// make the gateway retry delivery. Returns whether a record was updated.
func (r *Reconciler) ApplyConnectionState(ctx context.Context, instanceName string, state models.InstanceState, wid string) (bool, error) {
	affected, err := r.store.UpdateInstanceState(ctx, instanceName, state)
	if err != nil {
		return false, err
	}
	if affected == 0 {
		log.Warn().Str("instance", instanceName).Str("state", string(state)).
			Msg("Connection state for unknown instance, nothing to reconcile")
		return false, nil
	}
	log.Info().Str("instance", instanceName).Str("state", string(state)).Msg("Instance state updated")

	if wid != "" {
		if err := r.refreshWid(ctx, instanceName, wid); err != nil {
			log.Error().Err(err).Str("instance", instanceName).Msg("Failed to refresh instance wid")
		}
	}
	return true, nil
}

// refreshWid records the WhatsApp account id in the instance settings when it
// changed.
func (r *Reconciler) refreshWid(ctx context.Context, instanceName, wid string) error {
	inst, err := r.store.GetInstanceByName(ctx, instanceName)
	if err != nil || inst == nil {
		return err
	}
	if current, _ := inst.Settings["wid"].(string); current == wid {
		return nil
	}
	settings := models.JSONB{}
	for k, v := range inst.Settings {
		settings[k] = v
	}
	settings["wid"] = wid
	return r.store.UpdateInstanceSettings(ctx, instanceName, settings)
}
