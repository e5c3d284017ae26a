package ldap

import (
	"fmt"
)

// SelectStrategy picks the pagination strategy for req from the configured
// strategy and the server's capabilities. Errors are returned before any
// search is issued.
func SelectStrategy(cfg *PagingConfig, req *SearchRequest, caps Capabilities, logger Logger) (Strategy, error) {
	fields := map[string]any{
		"configured_strategy": string(cfg.Strategy),
		"offset":              req.Offset,
		"has_cookie":          req.Cookie != "",
		"page_size":           req.PageSize,
		"max_entries":         req.MaxEntries,
		"supports_paged":      caps.SimplePagedResults,
		"supports_vlv":        caps.VirtualListView,
	}

	if req.AllowPartialResults && req.Offset == 0 && req.Cookie == "" && req.PageSize == 0 && req.MaxEntries == 0 {
		logger.Debug("Partial results allowed without paging options, bypassing pagination", fields)
		return newNoPagingStrategy(logger), nil
	}

	switch cfg.Strategy {
	case PagingStrategyNone:
		return newNoPagingStrategy(logger), nil

	case PagingStrategySimplePaged:
		if !caps.SimplePagedResults {
			return nil, &ConfigurationError{
				Setting: "paging_strategy",
				Message: fmt.Sprintf("%s requested but the server does not support the paged results control (%s)", cfg.Strategy, ControlTypePagedResults),
			}
		}
		return newSimplePagedStrategy(cfg.PageSize, logger), nil

	case PagingStrategyVLV:
		if !caps.VirtualListView {
			return nil, &ConfigurationError{
				Setting: "paging_strategy",
				Message: fmt.Sprintf("%s requested but the server does not support the virtual list view control (%s)", cfg.Strategy, ControlTypeVLVRequest),
			}
		}
		return newVLVStrategy(cfg, req, logger), nil

	case PagingStrategyAuto:
		if req.Offset > 0 {
			if !caps.VirtualListView {
				return nil, &UnsupportedOperationError{
					Operation: "offset_search",
					Message:   "an offset was requested but the server does not support the virtual list view control",
				}
			}
			return newVLVStrategy(cfg, req, logger), nil
		}

		if caps.SimplePagedResults {
			return newSimplePagedStrategy(cfg.PageSize, logger), nil
		}
		if caps.VirtualListView {
			return newVLVStrategy(cfg, req, logger), nil
		}
		return nil, &UnsupportedOperationError{
			Operation: "paged_search",
			Message:   "the server supports neither the paged results nor the virtual list view control",
		}
	}

	logger.Warn("No paging strategy resolved, falling back to unpaged search", fields)
	return newNoPagingStrategy(logger), nil
}
