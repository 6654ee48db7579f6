package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

const page = `<html><head><title>Acme</title><style>.x{}</style></head>
<body>
  <nav>Home | About</nav>
  <div class="plans">
    <div class="price">Starter <span>$9</span></div>
    <div class="price">Pro <span>$49</span></div>
  </div>
  <div class="ad">Buy now!</div>
  <footer>Updated <time>10:31</time></footer>
  <script>var tracking = 1;</script>
</body></html>`

func TestSnapshotWithSelectors(t *testing.T) {
	t.Parallel()

	snap, err := Snapshot([]byte(page), []string{".price"}, nil)
	require.NoError(t, err)
	require.Equal(t, "Starter $9\nPro $49", snap)
}

func TestSnapshotWholeBodyDropsIgnored(t *testing.T) {
	t.Parallel()

	snap, err := Snapshot([]byte(page), nil, []string{"footer", ".ad"})
	require.NoError(t, err)
	require.Contains(t, snap, "Starter $9")
	require.Contains(t, snap, "Home | About")
	require.NotContains(t, snap, "Buy now")
	require.NotContains(t, snap, "10:31")
	require.NotContains(t, snap, "tracking")
}

func TestSnapshotNoMatchIsExtractionError(t *testing.T) {
	t.Parallel()

	_, err := Snapshot([]byte(page), []string{".missing"}, nil)
	var extErr *monitor.ExtractionError
	require.True(t, errors.As(err, &extErr))
	require.True(t, monitor.IsRetryable(err))

	_, err = Snapshot([]byte("<html><body>  </body></html>"), nil, nil)
	require.ErrorAs(t, err, &extErr)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	good := monitor.JobConfig{Pricing: &monitor.PricingConfig{PricingSelectors: []string{".price > span", "#plans"}}}
	require.NoError(t, ValidateConfig(monitor.JobTypePricing, good))

	bad := monitor.JobConfig{Pricing: &monitor.PricingConfig{PricingSelectors: []string{"div[["}}}
	var vErr *monitor.ValidationError
	require.ErrorAs(t, ValidateConfig(monitor.JobTypePricing, bad), &vErr)

	badIgnore := monitor.JobConfig{ChangeDetection: monitor.ChangeDetectionConfig{IgnoreSelectors: []string{"a["}}}
	require.ErrorAs(t, ValidateConfig(monitor.JobTypeWebsite, badIgnore), &vErr)
}
