// Package inventory loads and resolves the host inventory: an ordered
// mapping from group name to hosts, plus the distinguished "all" group
// and dynamic hosts added at runtime.
package inventory

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/ferr"
)

// Store is the subset of the state store this package persists
// dynamic hosts through. Satisfied by *statestore.Store.
type Store interface {
	PutHost(name string, attrs map[string]any)
}

// Inventory is the loaded, queryable host/group model. Safe for
// concurrent reads; AddHost takes a write lock so readers always see a
// consistent snapshot.
type Inventory struct {
	mu     sync.RWMutex
	groups map[string]*domain.Group
	hosts  map[string]*domain.Host
	order  []string // host declaration order, for stable hosts() output
	store  Store
}

// New returns an empty inventory with only the implicit "all" group.
func New(store Store) *Inventory {
	return &Inventory{
		groups: map[string]*domain.Group{domain.AllGroup: {Name: domain.AllGroup}},
		hosts:  map[string]*domain.Host{},
		store:  store,
	}
}

// orderedGroup is one group of a parsed inventory document, with both
// its own host declaration order (HostOrder) and the group's position
// in the document preserved. Decoded off a yaml.Node tree rather than
// straight into a map, because Go maps have no iteration order and
// spec.md's "stable: inventory-declaration order" guarantee on Hosts
// depends on it.
type orderedGroup struct {
	Name      string
	HostOrder []string
	Hosts     map[string]map[string]any
	Vars      map[string]any
	Children  []string
}

// Load reads an inventory document from path. Executable files (POSIX
// executable bit set) are invoked with --list and their stdout parsed
// per the dynamic-inventory convention; everything else is parsed as
// YAML (a superset of JSON, so both formats work through one decoder).
func Load(path string, store Store) (*Inventory, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ferr.InventoryInvalid{Detail: fmt.Sprintf("stat %s: %v", path, err)}
	}

	if info.Mode()&0111 != 0 {
		return loadExecutable(path, store)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ferr.InventoryInvalid{Detail: fmt.Sprintf("read %s: %v", path, err)}
	}

	groups, err := parseOrderedDoc(data)
	if err != nil {
		return nil, &ferr.InventoryInvalid{Detail: fmt.Sprintf("parse %s: %v", path, err)}
	}

	return fromOrderedGroups(groups, store)
}

// parseOrderedDoc walks data's top-level mapping node by node instead
// of unmarshaling into a map, so group order survives, and in turn
// walks each group's "hosts" node the same way so host order survives.
func parseOrderedDoc(data []byte) ([]orderedGroup, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("document root must be a mapping of group name to group body")
	}

	names, bodies, err := mappingEntries(doc)
	if err != nil {
		return nil, err
	}

	groups := make([]orderedGroup, 0, len(names))
	for i, name := range names {
		group, err := decodeGroupNode(name, bodies[i])
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// mappingEntries returns node's keys and value nodes in document
// order. node must be a YAML mapping.
func mappingEntries(node *yaml.Node) ([]string, []*yaml.Node, error) {
	if node.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("expected a mapping, got a %v node", node.Kind)
	}
	keys := make([]string, 0, len(node.Content)/2)
	vals := make([]*yaml.Node, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
		vals = append(vals, node.Content[i+1])
	}
	return keys, vals, nil
}

func decodeGroupNode(name string, node *yaml.Node) (orderedGroup, error) {
	g := orderedGroup{Name: name, Hosts: map[string]map[string]any{}}
	if node.Kind != yaml.MappingNode {
		return g, &ferr.InventoryInvalid{Detail: fmt.Sprintf("group %q must be a mapping", name)}
	}

	keys, vals, err := mappingEntries(node)
	if err != nil {
		return g, &ferr.InventoryInvalid{Detail: fmt.Sprintf("group %q: %v", name, err)}
	}

	for i, key := range keys {
		val := vals[i]
		switch key {
		case "hosts":
			if err := decodeHostsNode(&g, val); err != nil {
				return g, err
			}
		case "vars":
			var vars map[string]any
			if err := val.Decode(&vars); err != nil {
				return g, &ferr.InventoryInvalid{Detail: fmt.Sprintf("group %q vars: %v", name, err)}
			}
			g.Vars = vars
		case "children":
			var children []string
			if err := val.Decode(&children); err != nil {
				return g, &ferr.InventoryInvalid{Detail: fmt.Sprintf("group %q children: %v", name, err)}
			}
			g.Children = children
		}
	}
	return g, nil
}

// decodeHostsNode accepts either shape a group's "hosts" key takes in
// this pack: a mapping of hostname to attrs (the static-file
// convention), or a bare sequence of hostnames (the dynamic-inventory
// --list convention, whose per-host attrs live in _meta.hostvars
// instead and are merged in by loadExecutable).
func decodeHostsNode(g *orderedGroup, node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		names, vals, err := mappingEntries(node)
		if err != nil {
			return &ferr.InventoryInvalid{Detail: fmt.Sprintf("group %q hosts: %v", g.Name, err)}
		}
		for i, hname := range names {
			var attrs map[string]any
			if err := vals[i].Decode(&attrs); err != nil {
				return &ferr.InventoryInvalid{Detail: fmt.Sprintf("host %q: %v", hname, err)}
			}
			if attrs == nil {
				attrs = map[string]any{}
			}
			g.Hosts[hname] = attrs
			g.HostOrder = append(g.HostOrder, hname)
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			var hname string
			if err := item.Decode(&hname); err != nil {
				return &ferr.InventoryInvalid{Detail: fmt.Sprintf("group %q hosts entry: %v", g.Name, err)}
			}
			g.Hosts[hname] = map[string]any{}
			g.HostOrder = append(g.HostOrder, hname)
		}
	default:
		return &ferr.InventoryInvalid{Detail: fmt.Sprintf("group %q hosts must be a mapping or a list", g.Name)}
	}
	return nil
}

func fromOrderedGroups(groups []orderedGroup, store Store) (*Inventory, error) {
	inv := New(store)

	// One pass in document order; child-group references are resolved
	// lazily by Hosts/resolveGroup, so the order children are declared
	// in doesn't matter here.
	for _, og := range groups {
		group := &domain.Group{Name: og.Name, Vars: og.Vars, Children: og.Children}

		for _, hname := range og.HostOrder {
			host, err := hostFromAttrs(hname, og.Hosts[hname])
			if err != nil {
				return nil, err
			}
			if _, exists := inv.hosts[hname]; !exists {
				inv.hosts[hname] = host
				inv.order = append(inv.order, hname)
			}
			group.HostNames = append(group.HostNames, hname)
		}
		inv.groups[og.Name] = group
		inv.groups[domain.AllGroup].HostNames = appendUnique(inv.groups[domain.AllGroup].HostNames, group.HostNames...)
	}

	return inv, nil
}

// hostFromAttrs builds a Host from the recognized ansible_* keys;
// everything else becomes a host variable.
func hostFromAttrs(name string, attrs map[string]any) (*domain.Host, error) {
	h := &domain.Host{Name: name, Transport: domain.TransportSSH, Vars: map[string]any{}}

	for k, v := range attrs {
		switch k {
		case "ansible_host":
			h.Address, _ = v.(string)
		case "ansible_port":
			h.Port = toInt(v)
		case "ansible_user":
			h.User, _ = v.(string)
		case "ansible_password":
			h.Password, _ = v.(string)
		case "ansible_ssh_private_key_file":
			h.PrivateKeyFile, _ = v.(string)
		default:
			h.Vars[k] = v
		}
	}

	if h.Address == "" {
		h.Address = name
	}
	if h.Address == "localhost" || h.Address == "127.0.0.1" {
		h.Transport = domain.TransportLocal
	}

	return h, nil
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func appendUnique(dst []string, src ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			dst = append(dst, s)
			seen[s] = true
		}
	}
	return dst
}

// Hosts resolves a selector (a host name, a group name, or a list of
// either) to an ordered, de-duplicated list of Host, in inventory
// declaration order.
func (inv *Inventory) Hosts(selector []string) ([]domain.Host, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	wanted := map[string]bool{}
	for _, sel := range selector {
		if group, ok := inv.groups[sel]; ok {
			names, err := inv.resolveGroup(group, map[string]bool{})
			if err != nil {
				return nil, err
			}
			for _, n := range names {
				wanted[n] = true
			}
			continue
		}
		if _, ok := inv.hosts[sel]; ok {
			wanted[sel] = true
			continue
		}
		return nil, &ferr.InventoryInvalid{Detail: fmt.Sprintf("unknown host or group %q", sel)}
	}

	out := make([]domain.Host, 0, len(wanted))
	for _, name := range inv.order {
		if wanted[name] {
			out = append(out, inv.hosts[name].Clone())
		}
	}
	return out, nil
}

func (inv *Inventory) resolveGroup(g *domain.Group, visiting map[string]bool) ([]string, error) {
	if visiting[g.Name] {
		return nil, &ferr.InventoryInvalid{Detail: fmt.Sprintf("group cycle detected at %q", g.Name)}
	}
	visiting[g.Name] = true

	names := append([]string{}, g.HostNames...)
	for _, childName := range g.Children {
		child, ok := inv.groups[childName]
		if !ok {
			return nil, &ferr.InventoryInvalid{Detail: fmt.Sprintf("group %q references unknown child %q", g.Name, childName)}
		}
		childNames, err := inv.resolveGroup(child, visiting)
		if err != nil {
			return nil, err
		}
		names = append(names, childNames...)
	}
	return names, nil
}

// AddHost inserts or updates a host, adds it to the "all" group, and
// persists it via the state store. Safe to call concurrently with
// Hosts; the next Hosts call observes the update.
func (inv *Inventory) AddHost(name string, attrs map[string]any) error {
	host, err := hostFromAttrs(name, attrs)
	if err != nil {
		return err
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if _, exists := inv.hosts[name]; !exists {
		inv.order = append(inv.order, name)
	}
	inv.hosts[name] = host
	inv.groups[domain.AllGroup].HostNames = appendUnique(inv.groups[domain.AllGroup].HostNames, name)

	if inv.store != nil {
		inv.store.PutHost(name, attrs)
	}
	return nil
}

// Groups returns the names of every declared group, including "all".
func (inv *Inventory) Groups() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	names := make([]string, 0, len(inv.groups))
	for n := range inv.groups {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// loadExecutable invokes an executable inventory with --list and
// parses its stdout per the {_meta: {hostvars}, <group>: {hosts, vars}}
// convention. Group and host order both come straight off the
// document, the same as the static-file path; only per-host attrs are
// looked up separately, from _meta.hostvars, since the --list
// convention keeps them out of the per-group "hosts" list.
func loadExecutable(path string, store Store) (*Inventory, error) {
	cmd := exec.Command(path, "--list")
	out, err := cmd.Output()
	if err != nil {
		return nil, &ferr.InventoryInvalid{Detail: fmt.Sprintf("exec %s --list: %v", path, err)}
	}

	var parsed struct {
		Meta struct {
			HostVars map[string]map[string]any `yaml:"hostvars"`
		} `yaml:"_meta"`
	}
	if err := yaml.Unmarshal(out, &parsed); err != nil {
		return nil, &ferr.InventoryInvalid{Detail: fmt.Sprintf("parse %s --list output: %v", path, err)}
	}

	groups, err := parseOrderedDoc(out)
	if err != nil {
		return nil, &ferr.InventoryInvalid{Detail: fmt.Sprintf("parse %s --list: %v", path, err)}
	}

	filtered := make([]orderedGroup, 0, len(groups))
	for _, g := range groups {
		if g.Name == "_meta" {
			continue
		}
		for hname, attrs := range parsed.Meta.HostVars {
			if hostAttrs, ok := g.Hosts[hname]; ok {
				for k, v := range attrs {
					hostAttrs[k] = v
				}
			}
		}
		filtered = append(filtered, g)
	}

	return fromOrderedGroups(filtered, store)
}
