package provider

import (
	"log/slog"

	"github.com/kitilash/altegiobot/internal/cache"
	"github.com/kitilash/altegiobot/internal/config"
)

// New builds the provider named by WHATSAPP_PROVIDER. Anything other than
// "meta_cloud" gets the dummy.
func New(cfg config.Config, senders SenderStore, c cache.StringCache, log *slog.Logger) Provider {
	if cfg.WhatsAppProvider == "meta_cloud" {
		return NewMeta(MetaConfig{
			GraphURL:      cfg.WhatsAppGraphURL,
			APIVersion:    cfg.WhatsAppAPIVersion,
			AccessToken:   cfg.WhatsAppAccessToken,
			AllowRealSend: cfg.AllowRealSend,
		}, senders, c)
	}
	return NewDummy(log)
}
