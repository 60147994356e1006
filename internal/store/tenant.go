package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/identitykit/identitykit/internal/apierr"
)

// MfaConfig is the multi-factor policy for a realm.
type MfaConfig struct {
	State            string   `json:"state"`
	EnabledProviders []string `json:"enabledProviders"`
}

// Tenant is the stored configuration of one tenant.
type Tenant struct {
	TenantID              string    `json:"tenantId"`
	Name                  string    `json:"name"`
	DisplayName           string    `json:"displayName,omitempty"`
	AllowPasswordSignup   bool      `json:"allowPasswordSignup"`
	DisableAuth           bool      `json:"disableAuth"`
	EnableAnonymousUser   bool      `json:"enableAnonymousUser"`
	EnableEmailLinkSignin bool      `json:"enableEmailLinkSignin"`
	MfaConfig             MfaConfig `json:"mfaConfig"`
}

func permissiveTenant(tenantID string) Tenant {
	return Tenant{
		TenantID:              tenantID,
		AllowPasswordSignup:   true,
		EnableAnonymousUser:   true,
		EnableEmailLinkSignin: true,
		MfaConfig:             MfaConfig{State: "ENABLED", EnabledProviders: []string{"PHONE_SMS"}},
	}
}

// CreateTenant stores tenant under a freshly generated id and returns the
// stored copy with its resource name filled in.
func (ps *ProjectState) CreateTenant(tenant Tenant) (Tenant, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for i := 0; i < 10; i++ {
		tenantID, err := ps.gen.AlphanumericID(28)
		if err != nil {
			return Tenant{}, err
		}
		if created, ok := ps.createTenantLocked(tenantID, tenant); ok {
			return created, nil
		}
	}
	return Tenant{}, fmt.Errorf("store: cannot generate a unique tenantId after 10 tries")
}

// EnsureTenant returns the tenant with tenantID, implicitly creating it with
// every feature enabled when absent. Production defaults are disabled, but
// implicit permissive creation is far more convenient for tests.
func (ps *ProjectState) EnsureTenant(tenantID string) Tenant {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if existing, ok := ps.tenants[tenantID]; ok {
		return *existing
	}
	created, _ := ps.createTenantLocked(tenantID, permissiveTenant(tenantID))
	return created
}

func (ps *ProjectState) createTenantLocked(tenantID string, tenant Tenant) (Tenant, bool) {
	if _, exists := ps.tenants[tenantID]; exists {
		return Tenant{}, false
	}
	tenant.TenantID = tenantID
	tenant.Name = fmt.Sprintf("projects/%s/tenants/%s", ps.projectID, tenantID)
	ps.tenants[tenantID] = &tenant
	ps.tenantRealms[tenantID] = newRealm()
	return tenant, true
}

// TenantByID returns the tenant config for tenantID.
func (ps *ProjectState) TenantByID(tenantID string) (Tenant, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	tenant, ok := ps.tenants[tenantID]
	if !ok {
		return Tenant{}, apierr.ErrTenantNotFound
	}
	return *tenant, nil
}

// ListTenants returns tenants ordered by tenantId, skipping ids at or below
// startToken when one is given.
func (ps *ProjectState) ListTenants(startToken string) []Tenant {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	tenants := make([]Tenant, 0, len(ps.tenants))
	for _, tenant := range ps.tenants {
		if startToken == "" || tenant.TenantID > startToken {
			tenants = append(tenants, *tenant)
		}
	}
	sort.Slice(tenants, func(i, j int) bool {
		return tenants[i].TenantID < tenants[j].TenantID
	})
	return tenants
}

// UpdateTenant applies update under the given mask. An empty mask replaces
// every configurable field, defaulting absent ones the way production does.
func (ps *ProjectState) UpdateTenant(tenantID string, update Tenant, updateMask string) (Tenant, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	tenant, ok := ps.tenants[tenantID]
	if !ok {
		return Tenant{}, apierr.ErrTenantNotFound
	}
	if updateMask == "" {
		if update.MfaConfig.State == "" {
			update.MfaConfig.State = "DISABLED"
		}
		if update.MfaConfig.EnabledProviders == nil {
			update.MfaConfig.EnabledProviders = []string{}
		}
		update.TenantID = tenant.TenantID
		update.Name = tenant.Name
		*tenant = update
		return *tenant, nil
	}
	for _, path := range strings.Split(updateMask, ",") {
		switch strings.TrimSpace(path) {
		case "displayName":
			tenant.DisplayName = update.DisplayName
		case "allowPasswordSignup":
			tenant.AllowPasswordSignup = update.AllowPasswordSignup
		case "disableAuth":
			tenant.DisableAuth = update.DisableAuth
		case "enableAnonymousUser":
			tenant.EnableAnonymousUser = update.EnableAnonymousUser
		case "enableEmailLinkSignin":
			tenant.EnableEmailLinkSignin = update.EnableEmailLinkSignin
		case "mfaConfig":
			tenant.MfaConfig = update.MfaConfig
		case "mfaConfig.state":
			tenant.MfaConfig.State = update.MfaConfig.State
		case "mfaConfig.enabledProviders":
			tenant.MfaConfig.EnabledProviders = update.MfaConfig.EnabledProviders
		}
	}
	return *tenant, nil
}

// DeleteTenant removes the tenant and all of its users.
func (ps *ProjectState) DeleteTenant(tenantID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.tenants, tenantID)
	delete(ps.tenantRealms, tenantID)
}
