package fanout

// Discriminator decides whether a parser claims a payload. It is the cheap,
// side-effect-free half of parsing and runs on every inbound payload, so it
// should only look at a few fields.
type Discriminator interface {
	Match(v View) bool
}

// DiscriminatorFunc adapts a function to Discriminator.
type DiscriminatorFunc func(v View) bool

// Match implements Discriminator.
func (f DiscriminatorFunc) Match(v View) bool { return f(v) }

// Always returns a Discriminator matching every payload the inspector
// accepts.
func Always() Discriminator {
	return DiscriminatorFunc(func(View) bool { return true })
}

// HasFields returns a Discriminator that matches when all paths exist.
func HasFields(paths ...string) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		for _, p := range paths {
			if !v.HasField(p) {
				return false
			}
		}
		return true
	})
}

// FieldEquals returns a Discriminator that matches when the path holds the
// given string.
func FieldEquals(path, value string) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		s, ok := v.GetString(path)
		return ok && s == value
	})
}

// FieldIn returns a Discriminator that matches when the path holds any of
// the given strings.
func FieldIn(path string, values ...string) Discriminator {
	set := make(map[string]struct{}, len(values))
	for _, s := range values {
		set[s] = struct{}{}
	}
	return DiscriminatorFunc(func(v View) bool {
		s, ok := v.GetString(path)
		if !ok {
			return false
		}
		_, hit := set[s]
		return hit
	})
}

// IntEquals returns a Discriminator that matches when the path holds the
// given number.
func IntEquals(path string, value int64) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		n, ok := v.GetInt(path)
		return ok && n == value
	})
}

// And returns a Discriminator that matches when all discriminators match.
func And(ds ...Discriminator) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		for _, d := range ds {
			if !d.Match(v) {
				return false
			}
		}
		return true
	})
}

// Or returns a Discriminator that matches when any discriminator matches.
func Or(ds ...Discriminator) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		for _, d := range ds {
			if d.Match(v) {
				return true
			}
		}
		return false
	})
}

// Not inverts d.
func Not(d Discriminator) Discriminator {
	return DiscriminatorFunc(func(v View) bool { return !d.Match(v) })
}
