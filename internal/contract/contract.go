package contract

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/sync/singleflight"

	"udos/internal/config"
	"udos/internal/logging"
)

const (
	envKeyName   = "WIZARD_KEY"
	envTokenName = "WIZARD_ADMIN_TOKEN"

	// minTokenBytes is the decoded-length floor for admin tokens.
	minTokenBytes = 32
)

// DriftKind names one deviation from the admin-secret contract.
type DriftKind string

const (
	DriftMissingEnvKey      DriftKind = "missing_env_key"
	DriftMissingEnvToken    DriftKind = "missing_env_token"
	DriftMissingConfigKeyID DriftKind = "missing_config_key_id"
	DriftSecretStoreLocked  DriftKind = "secret_store_locked"
	DriftMissingSecretEntry DriftKind = "missing_secret_entry"
	DriftTokenMismatch      DriftKind = "token_mismatch"
)

// Action names one performed repair step.
type Action string

const (
	ActionSetConfigKeyID Action = "set_admin_api_key_id"
	ActionGenerateKey    Action = "generate_wizard_key"
	ActionGenerateToken  Action = "generate_admin_token"
	ActionUpsertEntry    Action = "upsert_secret_entry"
	ActionResetStore     Action = "reset_secret_store"
)

// repairActionFor maps each drift kind to the action that clears it, for
// the advisory repair_actions list in status reports.
var repairActionFor = map[DriftKind]Action{
	DriftMissingEnvKey:      ActionGenerateKey,
	DriftMissingEnvToken:    ActionGenerateToken,
	DriftMissingConfigKeyID: ActionSetConfigKeyID,
	DriftSecretStoreLocked:  ActionResetStore,
	DriftMissingSecretEntry: ActionUpsertEntry,
	DriftTokenMismatch:      ActionUpsertEntry,
}

// StatusReport is the outcome of a drift scan.
type StatusReport struct {
	OK            bool        `json:"ok"`
	Drift         []DriftKind `json:"drift"`
	RepairActions []string    `json:"repair_actions"`
}

// RepairReport is the outcome of one repair run.
type RepairReport struct {
	OK            bool        `json:"ok"`
	Performed     []Action    `json:"performed"`
	ResidualDrift []DriftKind `json:"residual_drift"`
}

// Manager owns the three artifacts. Status is read-mostly; Repair is
// mutually exclusive across the process, and concurrent callers of
// either collapse onto one in-flight run.
type Manager struct {
	cfgPath string
	store   *Store
	group   singleflight.Group
}

// NewManager builds a contract manager from the loaded config. The store
// is not unlocked until the first scan.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfgPath: cfg.WizardPath(),
		store:   NewStore(cfg.SecretStorePath()),
	}
}

// scanState is everything one drift pass observed, reused by repair.
type scanState struct {
	cfg   *config.Config
	env   *config.EnvFile
	key   []byte
	token string
	drift []DriftKind
}

// scan reads all three artifacts and enumerates drift. Store checks are
// skipped when no valid key exists to attempt an unlock with.
func (m *Manager) scan() (*scanState, error) {
	cfg, err := config.Load(m.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	env, err := config.LoadEnvFile(cfg.EnvFilePath())
	if err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	st := &scanState{cfg: cfg, env: env}

	if cfg.AdminAPIKeyID == "" {
		st.drift = append(st.drift, DriftMissingConfigKeyID)
	}

	key, keyOK := DecodeKey(env.Get(envKeyName))
	if !keyOK {
		st.drift = append(st.drift, DriftMissingEnvKey)
	} else {
		st.key = key
	}

	token := env.Get(envTokenName)
	if !validToken(token) {
		st.drift = append(st.drift, DriftMissingEnvToken)
	} else {
		st.token = token
	}

	if !keyOK {
		// No key to attempt an unlock with; store state is unknowable
		// and key drift already implies a repair pass.
		return st, nil
	}

	if err := m.store.Unlock(key); err != nil {
		st.drift = append(st.drift, DriftSecretStoreLocked)
		return st, nil
	}

	keyID := cfg.AdminAPIKeyID
	if keyID == "" {
		keyID = config.DefaultAdminAPIKeyID
	}
	stored, ok := m.store.Get(keyID)
	switch {
	case !ok:
		st.drift = append(st.drift, DriftMissingSecretEntry)
	case st.token != "" && stored != st.token:
		st.drift = append(st.drift, DriftTokenMismatch)
	}
	return st, nil
}

// Status scans the artifacts and reports drift with advisory repair
// actions. Concurrent callers share one scan.
func (m *Manager) Status() (*StatusReport, error) {
	v, err, _ := m.group.Do("status", func() (interface{}, error) {
		st, err := m.scan()
		if err != nil {
			return nil, err
		}
		report := &StatusReport{
			OK:            len(st.drift) == 0,
			Drift:         st.drift,
			RepairActions: []string{},
		}
		if report.Drift == nil {
			report.Drift = []DriftKind{}
		}
		for _, d := range st.drift {
			report.RepairActions = append(report.RepairActions, string(repairActionFor[d]))
		}
		if !report.OK {
			logging.ContractWarn("drift detected: %v", report.Drift)
		}
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*StatusReport), nil
}

// Repair runs the fixed action order and rescans. Concurrent callers
// observe one serialized, idempotent run.
func (m *Manager) Repair() (*RepairReport, error) {
	v, err, _ := m.group.Do("repair", func() (interface{}, error) {
		return m.repair()
	})
	if err != nil {
		return nil, err
	}
	return v.(*RepairReport), nil
}

func (m *Manager) repair() (*RepairReport, error) {
	st, err := m.scan()
	if err != nil {
		return nil, err
	}

	report := &RepairReport{Performed: []Action{}}

	// (1) Config key id.
	if st.cfg.AdminAPIKeyID == "" {
		st.cfg.AdminAPIKeyID = config.DefaultAdminAPIKeyID
		if err := st.cfg.Save(m.cfgPath); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
		report.Performed = append(report.Performed, ActionSetConfigKeyID)
		logging.Contract("repair: set admin_api_key_id=%s", st.cfg.AdminAPIKeyID)
	}
	keyID := st.cfg.AdminAPIKeyID

	// (2) Unlock key.
	if st.key == nil {
		hexKey, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		st.env.Set(envKeyName, hexKey)
		if err := st.env.Save(); err != nil {
			return nil, fmt.Errorf("failed to save env file: %w", err)
		}
		st.key, _ = DecodeKey(hexKey)
		report.Performed = append(report.Performed, ActionGenerateKey)
		logging.Contract("repair: generated %s", envKeyName)
	}

	unlockErr := m.store.Unlock(st.key)

	if unlockErr == nil {
		// (3)/(4) Upsert, generating a token first if env lacks one.
		if st.token == "" {
			token, err := generateToken()
			if err != nil {
				return nil, err
			}
			st.env.Set(envTokenName, token)
			if err := st.env.Save(); err != nil {
				return nil, fmt.Errorf("failed to save env file: %w", err)
			}
			st.token = token
			report.Performed = append(report.Performed, ActionGenerateToken)
			logging.Contract("repair: generated %s", envTokenName)
		}
		if stored, ok := m.store.Get(keyID); !ok || stored != st.token {
			if err := m.store.Put(keyID, st.token); err != nil {
				return nil, fmt.Errorf("failed to upsert secret entry: %w", err)
			}
			report.Performed = append(report.Performed, ActionUpsertEntry)
			logging.Contract("repair: upserted secret entry %s", keyID)
		}
	} else {
		// (5) Controlled reset, permitted only with an env token to
		// reseed from.
		if st.token == "" {
			logging.ContractError("repair: store locked and no env token to reseed from")
		} else {
			if err := m.store.Reset(st.key); err != nil {
				return nil, fmt.Errorf("failed to reset secret store: %w", err)
			}
			if err := m.store.Put(keyID, st.token); err != nil {
				return nil, fmt.Errorf("failed to reseed secret entry: %w", err)
			}
			report.Performed = append(report.Performed, ActionResetStore, ActionUpsertEntry)
			logging.Contract("repair: reset secret store and reseeded %s", keyID)
		}
	}

	after, err := m.scan()
	if err != nil {
		return nil, err
	}
	report.ResidualDrift = after.drift
	if report.ResidualDrift == nil {
		report.ResidualDrift = []DriftKind{}
	}
	report.OK = len(report.ResidualDrift) == 0
	if !report.OK {
		logging.ContractError("repair: residual drift %v", report.ResidualDrift)
	}
	return report, nil
}

// validToken requires base64url text decoding to at least 32 bytes.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		// Padded form is accepted too.
		raw, err = base64.URLEncoding.DecodeString(s)
		if err != nil {
			return false
		}
	}
	return len(raw) >= minTokenBytes
}

func generateToken() (string, error) {
	raw := make([]byte, minTokenBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
