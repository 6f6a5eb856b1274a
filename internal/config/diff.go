package config

import "encoding/json"

// ChangedSections reports which top-level config sections differ between
// old and new. Used only for reload logging; values (which may hold
// secrets) are never included.
func ChangedSections(old, new *Config) []string {
	if old == nil || new == nil {
		return []string{"all"}
	}
	var out []string
	add := func(name string, a, b any) {
		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		if string(ja) != string(jb) {
			out = append(out, name)
		}
	}
	add("logging", old.Logging, new.Logging)
	add("ops", old.Ops, new.Ops)
	add("journal", old.Journal, new.Journal)
	add("report", old.Report, new.Report)
	add("emitters", old.Emitters, new.Emitters)
	add("telegram", old.Telegram, new.Telegram)
	add("timezone", old.Timezone, new.Timezone)
	return out
}
