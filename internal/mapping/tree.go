package mapping

import "fmt"

// Tree is an in-memory multi-namespace mapping set. Namespace 0 is the
// source namespace; classes and members are keyed by their source names.
type Tree struct {
	Namespaces []string

	classes map[string]*Class
	order   []*Class
}

// Class is one class of a Tree.
type Class struct {
	// Names holds one name per namespace. Empty means "same as source".
	Names   []string
	Fields  []*Member
	Methods []*Member

	width   int
	fields  map[string][]*Member
	methods map[memberKey]*Member
}

// Member is a field or method. Desc is expressed in the source namespace.
type Member struct {
	Names []string
	Desc  string
}

type memberKey struct {
	name string
	desc string
}

// NewTree returns an empty tree over namespaces.
func NewTree(namespaces ...string) *Tree {
	return &Tree{
		Namespaces: append([]string(nil), namespaces...),
		classes:    make(map[string]*Class),
	}
}

// NamespaceIndex returns the position of ns, or -1.
func (t *Tree) NamespaceIndex(ns string) int {
	for i, n := range t.Namespaces {
		if n == ns {
			return i
		}
	}
	return -1
}

// RequireNamespace is NamespaceIndex that fails with ErrMissingNamespace.
func (t *Tree) RequireNamespace(ns string) (int, error) {
	if i := t.NamespaceIndex(ns); i >= 0 {
		return i, nil
	}
	return -1, fmt.Errorf("%w %q (have %v)", ErrMissingNamespace, ns, t.Namespaces)
}

// Classes returns classes in insertion order.
func (t *Tree) Classes() []*Class { return t.order }

// Class returns the class whose source name is src, or nil.
func (t *Tree) Class(src string) *Class { return t.classes[src] }

// AddClass returns the class named names[0], creating it if needed. Non-empty
// names overwrite those already recorded.
func (t *Tree) AddClass(names ...string) *Class {
	names = t.pad(names)
	c, ok := t.classes[names[0]]
	if !ok {
		c = &Class{
			Names:   names,
			width:   len(t.Namespaces),
			fields:  make(map[string][]*Member),
			methods: make(map[memberKey]*Member),
		}
		t.classes[names[0]] = c
		t.order = append(t.order, c)
		return c
	}
	for i, n := range names {
		if n != "" {
			c.Names[i] = n
		}
	}
	return c
}

// ClassName maps a source class name into namespace ns. Unknown classes and
// missing names map to src.
func (t *Tree) ClassName(src string, ns int) string {
	c := t.classes[src]
	if c == nil {
		return src
	}
	return c.Name(ns)
}

// MapDescriptor maps every class inside a source-namespace descriptor into ns.
func (t *Tree) MapDescriptor(desc string, ns int) string {
	if ns == 0 {
		return desc
	}
	return MapDescriptor(desc, func(name string) string { return t.ClassName(name, ns) })
}

// Field finds a field by source owner and name. An empty desc matches the
// first field of that name.
func (t *Tree) Field(owner, name, desc string) *Member {
	c := t.classes[owner]
	if c == nil {
		return nil
	}
	for _, f := range c.fields[name] {
		if desc == "" || f.Desc == desc {
			return f
		}
	}
	return nil
}

// Method finds a method by source owner, name and descriptor.
func (t *Tree) Method(owner, name, desc string) *Member {
	c := t.classes[owner]
	if c == nil {
		return nil
	}
	return c.methods[memberKey{name, desc}]
}

func (t *Tree) pad(names []string) []string {
	out := make([]string, len(t.Namespaces))
	copy(out, names)
	return out
}

// Name returns the class name in ns, falling back to the source name.
func (c *Class) Name(ns int) string {
	if ns >= 0 && ns < len(c.Names) && c.Names[ns] != "" {
		return c.Names[ns]
	}
	return c.Names[0]
}

// AddField records a field. desc is in the source namespace.
func (c *Class) AddField(desc string, names ...string) *Member {
	m := &Member{Names: c.pad(names), Desc: desc}
	c.Fields = append(c.Fields, m)
	c.fields[m.Names[0]] = append(c.fields[m.Names[0]], m)
	return m
}

// AddMethod records a method. desc is in the source namespace.
func (c *Class) AddMethod(desc string, names ...string) *Member {
	m := &Member{Names: c.pad(names), Desc: desc}
	c.Methods = append(c.Methods, m)
	c.methods[memberKey{m.Names[0], desc}] = m
	return m
}

func (c *Class) pad(names []string) []string {
	out := make([]string, c.width)
	copy(out, names)
	return out
}

// Name returns the member name in ns, falling back to the source name.
func (m *Member) Name(ns int) string {
	if ns >= 0 && ns < len(m.Names) && m.Names[ns] != "" {
		return m.Names[ns]
	}
	return m.Names[0]
}
