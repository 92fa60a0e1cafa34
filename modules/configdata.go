package modules

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
)

// ConfigData accumulates a normalised static config for a family.
// Values are deduplicated on insert, so parsers can feed it repeated
// observations without bloating the config, and the resulting map is
// JSON-shaped for stable content hashing.
type ConfigData struct {
	data map[string]any
}

// NewConfigData starts a config for the given family.
func NewConfigData(family string) *ConfigData {
	return &ConfigData{data: map[string]any{"type": family}}
}

// HasData reports whether anything beyond the family name was added.
func (c *ConfigData) HasData() bool {
	return len(c.data) > 1
}

// Data returns the accumulated config map.
func (c *ConfigData) Data() map[string]any {
	return c.data
}

// NormaliseURL canonicalises a URL for deduplication.
func NormaliseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.String()
}

func (c *ConfigData) add(key string, value any) {
	list, _ := c.data[key].([]any)
	for _, existing := range list {
		if reflect.DeepEqual(existing, value) {
			return
		}
	}
	c.data[key] = append(list, value)
}

func (c *ConfigData) addAction(actionType, urlPattern string, keys map[string]any) {
	action := map[string]any{"type": actionType, "url_pattern": urlPattern}
	for k, v := range keys {
		action[k] = v
	}
	c.add("actions", action)
}

// AddC2 records a C2 URL, which is also a malicious URL by definition.
func (c *ConfigData) AddC2(rawURL string) {
	c.add("c2", rawURL)
	c.AddMaliciousURL(rawURL)
}

// AddMaliciousNetloc records a malicious host.
func (c *ConfigData) AddMaliciousNetloc(netloc string) {
	c.add("malicious_netloc", netloc)
}

// AddMaliciousURL records a malicious URL in normalised form.
func (c *ConfigData) AddMaliciousURL(rawURL string) {
	c.add("malicious_url", NormaliseURL(rawURL))
}

// AddScreenshotAction records a screenshot action for a URL pattern.
func (c *ConfigData) AddScreenshotAction(target string) {
	c.addAction("screenshot", target, nil)
}

// AddRecordAction records a session recording action.
func (c *ConfigData) AddRecordAction(target string) {
	c.addAction("record", target, nil)
}

// AddBlockAction records a blocking action.
func (c *ConfigData) AddBlockAction(target string) {
	c.addAction("block", target, nil)
}

// AddRedirectAction records a redirect from one URL pattern to a target.
func (c *ConfigData) AddRedirectAction(from, to string) {
	c.addAction("redirect", from, map[string]any{"to": to})
}

// AddHideAction records an element hiding action.
func (c *ConfigData) AddHideAction(target string) {
	c.addAction("hide", target, nil)
}

// AddFilterAction records a filtering action.
func (c *ConfigData) AddFilterAction(target string) {
	c.addAction("filter", target, nil)
}

// AddVNCAction records a hidden VNC action with its server list.
func (c *ConfigData) AddVNCAction(target string, servers []string) {
	serverList := make([]any, len(servers))
	for i, s := range servers {
		serverList[i] = s
	}
	c.addAction("vnc", target, map[string]any{"servers": serverList})
}

// AddDynamicInject records a webinject served from a remote server.
func (c *ConfigData) AddDynamicInject(urlPattern, serverURL string) {
	c.add("dynamic_injects", map[string]any{
		"url_pattern": urlPattern,
		"server_url":  serverURL,
	})
	c.AddMaliciousURL(serverURL)
}

// AddDataSteal records a form grabbing action posting to a server.
func (c *ConfigData) AddDataSteal(urlPattern, serverURL string) {
	c.addAction("steal_data", urlPattern, map[string]any{"server_url": serverURL})
	c.AddMaliciousURL(serverURL)
}

// AddInject records an inline webinject.
func (c *ConfigData) AddInject(urlPattern, dataBefore, dataInject, dataAfter string) {
	inject := map[string]any{
		"url_pattern": urlPattern,
		"data_before": dataBefore,
		"data_inject": dataInject,
	}
	if dataAfter != "" {
		inject["data_after"] = dataAfter
	}
	c.add("injects", inject)
}

// actionKeys lists the extra keys each validated action type requires.
var actionKeys = map[string][]string{
	"redirect":        {"to"},
	"hide":            {},
	"vnc":             {"servers"},
	"dynamic_injects": {"server_url", "url_pattern"},
	"steal_data":      {"server_url"},
}

// ValidateAndAddAction checks a raw action map against the known action
// shapes and records it. Unknown types and unexpected keys are errors.
func (c *ConfigData) ValidateAndAddAction(raw map[string]any) error {
	actionType, ok := raw["type"].(string)
	if !ok {
		return fmt.Errorf("action has no type")
	}
	urlPattern, ok := raw["url_pattern"].(string)
	if !ok {
		return fmt.Errorf("action %q has no url_pattern", actionType)
	}

	expected, ok := actionKeys[actionType]
	if !ok {
		return fmt.Errorf("unrecognised action type %q", actionType)
	}

	params := make(map[string]any, len(raw))
	keys := make([]string, 0, len(raw))
	for k, v := range raw {
		if k == "type" || k == "url_pattern" {
			continue
		}
		params[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if !reflect.DeepEqual(keys, expected) {
		return fmt.Errorf("action %q has keys %v, expected %v", actionType, keys, expected)
	}

	c.addAction(actionType, urlPattern, params)
	return nil
}
