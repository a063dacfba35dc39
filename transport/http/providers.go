package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identity"
)

// ProviderInfo describes an identity provider to sign-in pages
type ProviderInfo struct {
	ID             string               `json:"id"`
	WebVersion     core.WebVersion      `json:"web_version"`
	Name           string               `json:"name"`
	Icon           string               `json:"icon,omitempty"`
	Homepage       string               `json:"homepage,omitempty"`
	DeepLink       string               `json:"deep_link,omitempty"`
	ConnectorTypes []core.ConnectorType `json:"connector_types"`
}

// Providers lists the registered identity providers in registration order
func Providers(registry *identity.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var out []ProviderInfo
		for _, d := range registry.All() {
			meta := d.Meta()
			info := ProviderInfo{
				ID:         d.Identifier(),
				WebVersion: d.WebVersion(),
				Name:       meta.Name,
				Icon:       meta.Icon,
				Homepage:   meta.Homepage,
				DeepLink:   meta.DeepLink,
			}
			switch d := d.(type) {
			case *identity.Web3Descriptor:
				for _, f := range d.Channels {
					info.ConnectorTypes = append(info.ConnectorTypes, f.ConnectorType)
				}
			case *identity.Web2Descriptor:
				info.ConnectorTypes = []core.ConnectorType{core.ConnectorOAuth}
			}
			out = append(out, info)
		}
		c.JSON(http.StatusOK, out)
	}
}
