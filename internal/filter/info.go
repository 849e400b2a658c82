package filter

const (
	PluginName    = "scriptfilter"
	PluginVersion = "1.0.0"
)

// DefaultConfig is the configuration category a new filter starts from.
const DefaultConfig = `{
  "plugin": {
    "description": "Starlark script filter",
    "type": "string",
    "default": "` + PluginName + `"
  },
  "enable": {
    "description": "A switch that can be used to enable or disable execution of the script filter.",
    "type": "boolean",
    "default": "false"
  },
  "config": {
    "description": "Script filter configuration, passed to set_filter_config.",
    "type": "JSON",
    "default": {}
  },
  "script": {
    "description": "Script to load, named <category>_script_<entrypoint>.star.",
    "type": "script",
    "default": ""
  },
  "encode_attribute_names": {
    "description": "Hand datapoint names and text values to the script as bytes.",
    "type": "boolean",
    "default": "false"
  }
}`

// Info describes the plugin to the host framework.
type Info struct {
	Name      string
	Version   string
	Type      string
	Interface string
	Config    string
}

func PluginInfo() Info {
	return Info{
		Name:      PluginName,
		Version:   PluginVersion,
		Type:      "filter",
		Interface: "1.0.0",
		Config:    DefaultConfig,
	}
}
