package config

import (
	"errors"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Policy carries the tunable enforcement knobs: the alert threshold ladder
// and webhook delivery limits. It reloads from disk without a restart.
type Policy struct {
	// AlertThresholds is the usage-percentage ladder, ascending. Only the
	// highest met rung fires.
	AlertThresholds []int `mapstructure:"alertThresholds"`

	// WebhookMaxAttempts bounds redelivery of a single delivery record.
	WebhookMaxAttempts int `mapstructure:"webhookMaxAttempts"`

	// WebhookFailureCeiling is the consecutive-failure count that opens a
	// webhook's circuit breaker.
	WebhookFailureCeiling int `mapstructure:"webhookFailureCeiling"`

	// WebhookTimeout bounds a single delivery POST.
	WebhookTimeout time.Duration `mapstructure:"webhookTimeout"`
}

func DefaultPolicy() Policy {
	return Policy{
		AlertThresholds:       []int{80, 90, 100},
		WebhookMaxAttempts:    3,
		WebhookFailureCeiling: 5,
		WebhookTimeout:        10 * time.Second,
	}
}

// PolicyHolder exposes the current policy with atomic swap on reload.
type PolicyHolder struct {
	current atomic.Value // holds Policy
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/entitle/config")
	v.AddConfigPath("/etc/entitle")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENTITLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("policy.alertThresholds", defaults.AlertThresholds)
	v.SetDefault("policy.webhookMaxAttempts", defaults.WebhookMaxAttempts)
	v.SetDefault("policy.webhookFailureCeiling", defaults.WebhookFailureCeiling)
	v.SetDefault("policy.webhookTimeout", defaults.WebhookTimeout)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Policy
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return nil, err
	}
	if err := validatePolicy(cfg); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Policy
		if err := v.UnmarshalKey("policy", &updated); err != nil {
			log.Printf("[policy-config] reload failed: %v", err)
			return
		}
		if err := validatePolicy(updated); err != nil {
			log.Printf("[policy-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPolicyHolder wraps a fixed policy, for tests.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func (h *PolicyHolder) Current() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	if cfg, ok := h.current.Load().(Policy); ok {
		return cfg
	}
	return DefaultPolicy()
}

func validatePolicy(p Policy) error {
	if len(p.AlertThresholds) == 0 {
		return errors.New("policy: alertThresholds must not be empty")
	}
	if !sort.IntsAreSorted(p.AlertThresholds) {
		return errors.New("policy: alertThresholds must be ascending")
	}
	for _, t := range p.AlertThresholds {
		if t <= 0 || t > 100 {
			return errors.New("policy: alertThresholds must be within (0, 100]")
		}
	}
	if p.WebhookMaxAttempts < 1 {
		return errors.New("policy: webhookMaxAttempts must be >= 1")
	}
	if p.WebhookFailureCeiling < 1 {
		return errors.New("policy: webhookFailureCeiling must be >= 1")
	}
	if p.WebhookTimeout <= 0 {
		return errors.New("policy: webhookTimeout must be positive")
	}
	return nil
}
