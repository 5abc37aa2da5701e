package pdp

// ConfigBuilder provides a fluent API for assembling configurations in code,
// for seeding tests and bootstrap fixtures.
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version: 1,
			Engine: EngineConfig{
				DecisionCacheTTL:    1000,
				RistrettoNumCounter: 1e4,
				RistrettoMaxCost:    1 << 20,
				RistrettoBuffer:     64,
			},
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) AddPolicy(p *Policy) *ConfigBuilder {
	b.cfg.Policies = append(b.cfg.Policies, p)
	return b
}

func (b *ConfigBuilder) AddRole(r *Role) *ConfigBuilder {
	b.cfg.Roles = append(b.cfg.Roles, r)
	return b
}

func (b *ConfigBuilder) AddHierarchy(h *RoleHierarchy) *ConfigBuilder {
	b.cfg.Hierarchies = append(b.cfg.Hierarchies, h)
	return b
}

func (b *ConfigBuilder) AddTemplate(t *ConditionTemplate) *ConfigBuilder {
	b.cfg.Templates = append(b.cfg.Templates, t)
	return b
}

func (b *ConfigBuilder) AddResource(r *ManagedResource) *ConfigBuilder {
	b.cfg.Resources = append(b.cfg.Resources, r)
	return b
}

func (b *ConfigBuilder) AddGrant(principalID string, authorities ...string) *ConfigBuilder {
	b.cfg.Grants = append(b.cfg.Grants, AuthorityGrant{PrincipalID: principalID, Authorities: authorities})
	return b
}

func (b *ConfigBuilder) EngineSettings(fn func(*EngineConfig)) *ConfigBuilder {
	fn(&b.cfg.Engine)
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	return b.cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	return b.cfg.ToJSON()
}
