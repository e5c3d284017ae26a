package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectStrategy(t *testing.T) {
	all := Capabilities{SimplePagedResults: true, VirtualListView: true, ServerSideSort: true}

	tests := []struct {
		name     string
		strategy PagingStrategy
		req      SearchRequest
		caps     Capabilities
		want     PagingStrategy
		wantErr  error
	}{
		{
			name:     "partial results without paging options bypasses pagination",
			strategy: PagingStrategyVLV,
			req:      SearchRequest{AllowPartialResults: true},
			caps:     all,
			want:     PagingStrategyNone,
		},
		{
			name:     "partial results with page size keeps pagination",
			strategy: PagingStrategyAuto,
			req:      SearchRequest{AllowPartialResults: true, PageSize: 10},
			caps:     all,
			want:     PagingStrategySimplePaged,
		},
		{
			name:     "partial results with cookie keeps pagination",
			strategy: PagingStrategyAuto,
			req:      SearchRequest{AllowPartialResults: true, Cookie: "QzE=:0"},
			caps:     all,
			want:     PagingStrategySimplePaged,
		},
		{
			name:     "configured none",
			strategy: PagingStrategyNone,
			caps:     all,
			want:     PagingStrategyNone,
		},
		{
			name:     "simple paged supported",
			strategy: PagingStrategySimplePaged,
			caps:     Capabilities{SimplePagedResults: true},
			want:     PagingStrategySimplePaged,
		},
		{
			name:     "simple paged unsupported",
			strategy: PagingStrategySimplePaged,
			caps:     Capabilities{VirtualListView: true},
			wantErr:  ErrConfiguration,
		},
		{
			name:     "vlv supported",
			strategy: PagingStrategyVLV,
			caps:     Capabilities{VirtualListView: true},
			want:     PagingStrategyVLV,
		},
		{
			name:     "vlv unsupported",
			strategy: PagingStrategyVLV,
			caps:     Capabilities{SimplePagedResults: true},
			wantErr:  ErrConfiguration,
		},
		{
			name:     "auto with offset and vlv",
			strategy: PagingStrategyAuto,
			req:      SearchRequest{Offset: 5},
			caps:     all,
			want:     PagingStrategyVLV,
		},
		{
			name:     "auto with offset without vlv",
			strategy: PagingStrategyAuto,
			req:      SearchRequest{Offset: 5},
			caps:     Capabilities{SimplePagedResults: true},
			wantErr:  ErrUnsupportedOperation,
		},
		{
			name:     "auto prefers simple paged",
			strategy: PagingStrategyAuto,
			caps:     all,
			want:     PagingStrategySimplePaged,
		},
		{
			name:     "auto falls back to vlv",
			strategy: PagingStrategyAuto,
			caps:     Capabilities{VirtualListView: true},
			want:     PagingStrategyVLV,
		},
		{
			name:     "auto without any paging control",
			strategy: PagingStrategyAuto,
			wantErr:  ErrUnsupportedOperation,
		},
		{
			name:     "unknown strategy falls back to unpaged",
			strategy: PagingStrategy("bogus"),
			caps:     all,
			want:     PagingStrategyNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewPagingConfig()
			cfg.Strategy = tt.strategy
			req := tt.req

			strategy, err := SelectStrategy(cfg, &req, tt.caps, newRecordingLogger())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, strategy)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, strategy.Name())
		})
	}
}

func TestSelectStrategy_UnknownStrategyWarns(t *testing.T) {
	cfg := NewPagingConfig()
	cfg.Strategy = "bogus"
	logger := newRecordingLogger()

	_, err := SelectStrategy(cfg, &SearchRequest{}, Capabilities{}, logger)
	require.NoError(t, err)
	assert.Len(t, logger.warnings(), 1)
}

func TestSelectStrategy_VLVSortKey(t *testing.T) {
	cfg := NewPagingConfig()
	cfg.Strategy = PagingStrategyVLV
	cfg.VLVSortOrderingRule = "2.5.13.3"
	caps := Capabilities{VirtualListView: true}

	strategy, err := SelectStrategy(cfg, &SearchRequest{}, caps, newRecordingLogger())
	require.NoError(t, err)
	assert.Equal(t, SortKey{Attribute: "uid", OrderingRule: "2.5.13.3"}, strategy.(*vlvStrategy).sortKey)

	strategy, err = SelectStrategy(cfg, &SearchRequest{SortKeys: []SortKey{{Attribute: "cn", Reverse: true}}}, caps, newRecordingLogger())
	require.NoError(t, err)
	assert.Equal(t, SortKey{Attribute: "cn", Reverse: true}, strategy.(*vlvStrategy).sortKey)
}

func TestPagingConfig(t *testing.T) {
	cfg := NewPagingConfig()
	assert.Equal(t, PagingStrategyAuto, cfg.Strategy)
	assert.Equal(t, 1000, cfg.PageSize)
	assert.Equal(t, 100, cfg.VLVBlockSize)
	assert.Equal(t, "uid", cfg.VLVSortAttribute)
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name    string
		mutate  func(*PagingConfig)
		setting string
	}{
		{name: "unknown strategy", mutate: func(c *PagingConfig) { c.Strategy = "fast" }, setting: "paging_strategy"},
		{name: "zero page size", mutate: func(c *PagingConfig) { c.PageSize = 0 }, setting: "page_size"},
		{name: "negative block size", mutate: func(c *PagingConfig) { c.VLVBlockSize = -1 }, setting: "vlv_block_size"},
		{name: "empty sort attribute", mutate: func(c *PagingConfig) { c.VLVSortAttribute = "" }, setting: "vlv_sort_attribute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewPagingConfig()
			tt.mutate(cfg)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, cfg.Validate(), &cfgErr)
			assert.Equal(t, tt.setting, cfgErr.Setting)
		})
	}
}
