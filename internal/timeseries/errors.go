package timeseries

import "codeberg.org/mutker/vramwatch/internal/errors"

const (
	ErrUnknownMetric = errors.ErrorCode("timeseries_unknown_metric")
	ErrNoData        = errors.ErrorCode("timeseries_no_data")
)
