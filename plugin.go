package picdesc

// PluginKind is the name the annotator registers under with a host pipeline.
const PluginKind = "api_with_token"

// Plugin describes an annotation-producing component a host can construct.
type Plugin struct {
	Kind string
	New  func(InitOptions) (*Annotator, error)
}

// Plugins is the registration hook a host pipeline calls to discover the
// picture description components this package provides.
func Plugins() []Plugin {
	return []Plugin{
		{Kind: PluginKind, New: Init},
	}
}

// Lookup returns the plugin registered under kind.
func Lookup(kind string) (Plugin, bool) {
	for _, p := range Plugins() {
		if p.Kind == kind {
			return p, true
		}
	}
	return Plugin{}, false
}
