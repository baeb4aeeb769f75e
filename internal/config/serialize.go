package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Marshal renders the configuration as HCL. Loading the output yields an
// equal configuration.
func Marshal(c *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("store_path", cty.StringVal(c.StorePath))
	body.SetAttributeValue("cache_dir", cty.StringVal(c.CacheDir))
	body.SetAttributeValue("log_level", cty.StringVal(c.LogLevel))
	body.SetAttributeValue("log_json", cty.BoolVal(c.LogJSON))
	body.SetAttributeValue("submit_timeout", cty.StringVal(c.SubmitTimeout))
	body.SetAttributeValue("per_app_dns", cty.BoolVal(c.PerAppDNS))
	body.SetAttributeValue("chunk_size", cty.NumberIntVal(int64(c.ChunkSize)))
	body.SetAttributeValue("fetch_concurrency", cty.NumberIntVal(int64(c.FetchConcurrency)))

	if c.Retry != nil {
		body.AppendNewline()
		rb := body.AppendNewBlock("retry", nil).Body()
		rb.SetAttributeValue("attempts", cty.NumberIntVal(int64(c.Retry.Attempts)))
		rb.SetAttributeValue("initial_delay", cty.StringVal(c.Retry.InitialDelay))
		rb.SetAttributeValue("max_delay", cty.StringVal(c.Retry.MaxDelay))
	}

	for _, bl := range c.Blocklists {
		body.AppendNewline()
		bb := body.AppendNewBlock("blocklist", []string{bl.Name}).Body()
		if bl.URL != "" {
			bb.SetAttributeValue("url", cty.StringVal(bl.URL))
		}
		if bl.File != "" {
			bb.SetAttributeValue("file", cty.StringVal(bl.File))
		}
		bb.SetAttributeValue("enabled", cty.BoolVal(bl.IsEnabled()))
	}

	if c.API != nil {
		body.AppendNewline()
		ab := body.AppendNewBlock("api", nil).Body()
		ab.SetAttributeValue("listen", cty.StringVal(c.API.Listen))
	}

	return f.Bytes()
}
