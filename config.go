package pdp

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete policy subsystem configuration
type Config struct {
	Version     uint16              `json:"version" yaml:"version"`
	Policies    []*Policy           `json:"policies" yaml:"policies"`
	Roles       []*Role             `json:"roles" yaml:"roles"`
	Hierarchies []*RoleHierarchy    `json:"hierarchies,omitempty" yaml:"hierarchies,omitempty"`
	Templates   []*ConditionTemplate `json:"templates,omitempty" yaml:"templates,omitempty"`
	Resources   []*ManagedResource  `json:"resources,omitempty" yaml:"resources,omitempty"`
	Grants      []AuthorityGrant    `json:"grants,omitempty" yaml:"grants,omitempty"`
	Engine      EngineConfig        `json:"engine" yaml:"engine"`
}

// AuthorityGrant assigns authorities to a principal at configuration load time
type AuthorityGrant struct {
	PrincipalID string   `json:"principal_id" yaml:"principal_id"`
	Authorities []string `json:"authorities" yaml:"authorities"`
}

type EngineConfig struct {
	DecisionCacheTTL    int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBinary loads from the compact binary distribution format
func (l *ConfigLoader) LoadBinary(data []byte) (*Config, error) {
	r := bytes.NewReader(data)
	return decodeBinaryConfig(r)
}

// EncodeBinaryConfig encodes config to binary format
func EncodeBinaryConfig(cfg *Config) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encodeBinaryConfig(cfg, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks every policy and hierarchy specification in the config
// before anything touches a store.
func (c *Config) Validate() error {
	for i, p := range c.Policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy[%d] %s: %w", i, p.ID, err)
		}
	}
	names := make([]string, 0, len(c.Roles))
	for _, r := range c.Roles {
		names = append(names, r.Name)
	}
	for i, h := range c.Hierarchies {
		if err := ValidateHierarchy(h.Spec, names); err != nil {
			return fmt.Errorf("hierarchy[%d] %s: %w", i, h.ID, err)
		}
	}
	return nil
}

// ApplyConfig applies configuration to the engine and its stores. Policies are
// upserted, so repeated applies of the same file are idempotent. A single
// Reload at the end makes the whole batch visible at once.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Engine.DecisionCacheTTL > 0 {
		e.cacheTTL.Store(int64(time.Duration(cfg.Engine.DecisionCacheTTL) * time.Millisecond))
	}
	if cfg.Engine.RistrettoNumCounter > 0 && e.decisionCache.Load() == nil {
		if err := WithDecisionCache(cfg.Engine.RistrettoNumCounter, cfg.Engine.RistrettoMaxCost, cfg.Engine.RistrettoBuffer)(e); err != nil {
			return fmt.Errorf("configure decision cache: %w", err)
		}
	}

	for _, r := range cfg.Roles {
		if err := e.roleStore.CreateRole(ctx, r); err != nil {
			return fmt.Errorf("save role %s: %w", r.ID, err)
		}
	}

	for _, t := range cfg.Templates {
		if err := e.templateStore.PutTemplate(ctx, t); err != nil {
			return fmt.Errorf("save template %s: %w", t.Name, err)
		}
	}

	for _, r := range cfg.Resources {
		if err := e.resourceStore.RegisterResource(ctx, r); err != nil {
			return fmt.Errorf("register resource %s: %w", r.ID, err)
		}
	}

	if e.authorities != nil {
		for _, g := range cfg.Grants {
			for _, a := range g.Authorities {
				if err := e.authorities.GrantAuthority(ctx, g.PrincipalID, a); err != nil {
					return fmt.Errorf("grant %s to %s: %w", a, g.PrincipalID, err)
				}
			}
		}
	}

	for _, p := range cfg.Policies {
		if _, err := e.policyStore.GetPolicy(ctx, p.ID); err != nil {
			if err := e.policyStore.CreatePolicy(ctx, p); err != nil {
				return fmt.Errorf("create policy %s: %w", p.ID, err)
			}
		} else {
			if err := e.policyStore.UpdatePolicy(ctx, p); err != nil {
				return fmt.Errorf("update policy %s: %w", p.ID, err)
			}
		}
	}

	var activate string
	for _, h := range cfg.Hierarchies {
		if err := e.roleStore.SaveHierarchy(ctx, h); err != nil {
			return fmt.Errorf("save hierarchy %s: %w", h.ID, err)
		}
		if h.Active {
			activate = h.ID
		}
	}
	if activate != "" {
		if err := e.ActivateHierarchy(ctx, activate); err != nil {
			return fmt.Errorf("activate hierarchy %s: %w", activate, err)
		}
	}

	return e.Reload(ctx)
}

// Binary protocol encoding/decoding
const (
	binaryMagic   = 0x5044 // "PD"
	binaryVersion = 1
)

func encodeBinaryConfig(cfg *Config, w io.Writer) error {
	buf := &bytes.Buffer{}

	// Header: magic(2) + version(2) + config_version(2)
	binary.Write(buf, binary.LittleEndian, uint16(binaryMagic))
	binary.Write(buf, binary.LittleEndian, uint16(binaryVersion))
	binary.Write(buf, binary.LittleEndian, cfg.Version)

	// Encode sections with type tags
	writeSection(buf, 0x01, func(b *bytes.Buffer) { encodePolicies(b, cfg.Policies) })
	writeSection(buf, 0x02, func(b *bytes.Buffer) { encodeRoles(b, cfg.Roles) })
	writeSection(buf, 0x03, func(b *bytes.Buffer) { encodeHierarchies(b, cfg.Hierarchies) })
	writeSection(buf, 0x04, func(b *bytes.Buffer) { encodeTemplates(b, cfg.Templates) })
	writeSection(buf, 0x05, func(b *bytes.Buffer) { encodeResources(b, cfg.Resources) })
	writeSection(buf, 0x06, func(b *bytes.Buffer) { encodeGrants(b, cfg.Grants) })
	writeSection(buf, 0x07, func(b *bytes.Buffer) { encodeEngineConfig(b, &cfg.Engine) })

	_, err := w.Write(buf.Bytes())
	return err
}

func decodeBinaryConfig(r io.Reader) (*Config, error) {
	cfg := &Config{}

	var magic, ver, cfgVer uint16
	binary.Read(r, binary.LittleEndian, &magic)
	binary.Read(r, binary.LittleEndian, &ver)
	binary.Read(r, binary.LittleEndian, &cfgVer)

	if magic != binaryMagic {
		return nil, fmt.Errorf("invalid magic: %x", magic)
	}
	if ver != binaryVersion {
		return nil, fmt.Errorf("unsupported version: %d", ver)
	}
	cfg.Version = cfgVer

	for {
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		var size uint32
		binary.Read(r, binary.LittleEndian, &size)
		data := make([]byte, size)
		io.ReadFull(r, data)

		switch tag {
		case 0x01:
			cfg.Policies = decodePolicies(data)
		case 0x02:
			cfg.Roles = decodeRoles(data)
		case 0x03:
			cfg.Hierarchies = decodeHierarchies(data)
		case 0x04:
			cfg.Templates = decodeTemplates(data)
		case 0x05:
			cfg.Resources = decodeResources(data)
		case 0x06:
			cfg.Grants = decodeGrants(data)
		case 0x07:
			cfg.Engine = decodeEngineConfig(data)
		}
	}

	return cfg, nil
}

func writeSection(buf *bytes.Buffer, tag uint8, fn func(*bytes.Buffer)) {
	tmp := &bytes.Buffer{}
	fn(tmp)
	binary.Write(buf, binary.LittleEndian, tag)
	binary.Write(buf, binary.LittleEndian, uint32(tmp.Len()))
	buf.Write(tmp.Bytes())
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) string {
	var l uint16
	binary.Read(r, binary.LittleEndian, &l)
	b := make([]byte, l)
	r.Read(b)
	return string(b)
}

func writeStrings(buf *bytes.Buffer, ss []string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func readStrings(r *bytes.Reader) []string {
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	out := make([]string, count)
	for i := range out {
		out[i] = readString(r)
	}
	return out
}

func encodePolicies(buf *bytes.Buffer, policies []*Policy) {
	binary.Write(buf, binary.LittleEndian, uint16(len(policies)))
	for _, p := range policies {
		writeString(buf, p.ID)
		writeString(buf, p.Name)
		writeString(buf, p.Description)
		buf.WriteByte(map[Effect]byte{EffectAllow: 1, EffectDeny: 2}[p.Effect])
		binary.Write(buf, binary.LittleEndian, int32(p.Priority))
		buf.WriteByte(map[bool]byte{true: 1, false: 0}[p.Enabled])
		binary.Write(buf, binary.LittleEndian, uint16(len(p.Targets)))
		for _, t := range p.Targets {
			writeString(buf, string(t.Type))
			writeString(buf, t.Identifier)
			writeString(buf, t.HTTPMethod)
		}
		binary.Write(buf, binary.LittleEndian, uint16(len(p.Rules)))
		for _, r := range p.Rules {
			writeString(buf, r.Description)
			binary.Write(buf, binary.LittleEndian, uint16(len(r.Conditions)))
			for _, c := range r.Conditions {
				writeString(buf, c.Expression)
				writeString(buf, string(c.Phase))
			}
		}
	}
}

func decodePolicies(data []byte) []*Policy {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	policies := make([]*Policy, count)
	for i := range policies {
		p := &Policy{}
		p.ID = readString(r)
		p.Name = readString(r)
		p.Description = readString(r)
		eff, _ := r.ReadByte()
		p.Effect = map[byte]Effect{1: EffectAllow, 2: EffectDeny}[eff]
		var pri int32
		binary.Read(r, binary.LittleEndian, &pri)
		p.Priority = int(pri)
		enb, _ := r.ReadByte()
		p.Enabled = enb == 1
		var tCount uint16
		binary.Read(r, binary.LittleEndian, &tCount)
		p.Targets = make([]Target, tCount)
		for j := range p.Targets {
			p.Targets[j].Type = TargetType(readString(r))
			p.Targets[j].Identifier = readString(r)
			p.Targets[j].HTTPMethod = readString(r)
		}
		var rCount uint16
		binary.Read(r, binary.LittleEndian, &rCount)
		p.Rules = make([]Rule, rCount)
		for j := range p.Rules {
			p.Rules[j].Description = readString(r)
			var cCount uint16
			binary.Read(r, binary.LittleEndian, &cCount)
			p.Rules[j].Conditions = make([]Condition, cCount)
			for k := range p.Rules[j].Conditions {
				p.Rules[j].Conditions[k].Expression = readString(r)
				p.Rules[j].Conditions[k].Phase = AuthorizationPhase(readString(r))
			}
		}
		p.CreatedAt = time.Now()
		p.UpdatedAt = time.Now()
		policies[i] = p
	}
	return policies
}

func encodeRoles(buf *bytes.Buffer, roles []*Role) {
	binary.Write(buf, binary.LittleEndian, uint16(len(roles)))
	for _, role := range roles {
		writeString(buf, role.ID)
		writeString(buf, role.Name)
		writeString(buf, role.Description)
	}
}

func decodeRoles(data []byte) []*Role {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	roles := make([]*Role, count)
	for i := range roles {
		role := &Role{}
		role.ID = readString(r)
		role.Name = readString(r)
		role.Description = readString(r)
		role.CreatedAt = time.Now()
		roles[i] = role
	}
	return roles
}

func encodeHierarchies(buf *bytes.Buffer, hs []*RoleHierarchy) {
	binary.Write(buf, binary.LittleEndian, uint16(len(hs)))
	for _, h := range hs {
		writeString(buf, h.ID)
		writeString(buf, h.Name)
		writeString(buf, h.Spec)
		buf.WriteByte(map[bool]byte{true: 1, false: 0}[h.Active])
	}
}

func decodeHierarchies(data []byte) []*RoleHierarchy {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	hs := make([]*RoleHierarchy, count)
	for i := range hs {
		h := &RoleHierarchy{}
		h.ID = readString(r)
		h.Name = readString(r)
		h.Spec = readString(r)
		act, _ := r.ReadByte()
		h.Active = act == 1
		h.CreatedAt = time.Now()
		hs[i] = h
	}
	return hs
}

func encodeTemplates(buf *bytes.Buffer, ts []*ConditionTemplate) {
	binary.Write(buf, binary.LittleEndian, uint16(len(ts)))
	for _, t := range ts {
		writeString(buf, t.Name)
		writeString(buf, t.Description)
		writeString(buf, t.SpelTemplate)
		writeString(buf, string(t.Classification))
		writeString(buf, string(t.RiskLevel))
		binary.Write(buf, binary.LittleEndian, int32(t.ComplexityScore))
	}
}

func decodeTemplates(data []byte) []*ConditionTemplate {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	ts := make([]*ConditionTemplate, count)
	for i := range ts {
		t := &ConditionTemplate{}
		t.Name = readString(r)
		t.Description = readString(r)
		t.SpelTemplate = readString(r)
		t.Classification = Classification(readString(r))
		t.RiskLevel = RiskLevel(readString(r))
		var cx int32
		binary.Read(r, binary.LittleEndian, &cx)
		t.ComplexityScore = int(cx)
		ts[i] = t
	}
	return ts
}

func encodeResources(buf *bytes.Buffer, rs []*ManagedResource) {
	binary.Write(buf, binary.LittleEndian, uint16(len(rs)))
	for _, res := range rs {
		writeString(buf, res.ID)
		writeString(buf, string(res.Type))
		writeString(buf, res.Identifier)
		writeStrings(buf, res.ParameterTypes)
		writeString(buf, res.ReturnType)
	}
}

func decodeResources(data []byte) []*ManagedResource {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	rs := make([]*ManagedResource, count)
	for i := range rs {
		res := &ManagedResource{}
		res.ID = readString(r)
		res.Type = TargetType(readString(r))
		res.Identifier = readString(r)
		res.ParameterTypes = readStrings(r)
		res.ReturnType = readString(r)
		rs[i] = res
	}
	return rs
}

func encodeGrants(buf *bytes.Buffer, gs []AuthorityGrant) {
	binary.Write(buf, binary.LittleEndian, uint16(len(gs)))
	for _, g := range gs {
		writeString(buf, g.PrincipalID)
		writeStrings(buf, g.Authorities)
	}
}

func decodeGrants(data []byte) []AuthorityGrant {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	gs := make([]AuthorityGrant, count)
	for i := range gs {
		gs[i].PrincipalID = readString(r)
		gs[i].Authorities = readStrings(r)
	}
	return gs
}

func encodeEngineConfig(buf *bytes.Buffer, cfg *EngineConfig) {
	binary.Write(buf, binary.LittleEndian, cfg.DecisionCacheTTL)
	binary.Write(buf, binary.LittleEndian, cfg.RistrettoNumCounter)
	binary.Write(buf, binary.LittleEndian, cfg.RistrettoMaxCost)
	binary.Write(buf, binary.LittleEndian, cfg.RistrettoBuffer)
}

func decodeEngineConfig(data []byte) EngineConfig {
	r := bytes.NewReader(data)
	cfg := EngineConfig{}
	binary.Read(r, binary.LittleEndian, &cfg.DecisionCacheTTL)
	binary.Read(r, binary.LittleEndian, &cfg.RistrettoNumCounter)
	binary.Read(r, binary.LittleEndian, &cfg.RistrettoMaxCost)
	binary.Read(r, binary.LittleEndian, &cfg.RistrettoBuffer)
	return cfg
}
