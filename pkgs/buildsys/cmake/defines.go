package cmake

import "sort"

type define struct {
	value    string
	typeName string
}

// Defines collects cmake cache entries. The zero value is ready to use.
type Defines struct {
	m map[string]define
}

func (d *Defines) set(key, value, typeName string) *Defines {
	if d.m == nil {
		d.m = map[string]define{}
	}
	d.m[key] = define{value: value, typeName: typeName}
	return d
}

// Set defines key as a STRING.
func (d *Defines) Set(key, value string) *Defines {
	return d.set(key, value, "STRING")
}

// SetBool defines key as a BOOL, ON or OFF.
func (d *Defines) SetBool(key string, value bool) *Defines {
	if value {
		return d.set(key, "ON", "BOOL")
	}
	return d.set(key, "OFF", "BOOL")
}

// SetPath defines key as a PATH.
func (d *Defines) SetPath(key, value string) *Defines {
	return d.set(key, value, "PATH")
}

// SetUntyped defines key without a type.
func (d *Defines) SetUntyped(key, value string) *Defines {
	return d.set(key, value, "")
}

func (d *Defines) Len() int { return len(d.m) }

// Args returns the -D arguments sorted by key.
func (d *Defines) Args() []string {
	if len(d.m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(d.m))
	for k := range d.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		def := d.m[k]
		if def.typeName != "" {
			args = append(args, "-D"+k+":"+def.typeName+"="+def.value)
			continue
		}
		args = append(args, "-D"+k+"="+def.value)
	}
	return args
}
