package repository

import "fmt"

// Schema returns the DDL for the bars and forecasts tables, qualified with db.
func Schema(db, barsTable, forecastTable string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    symbol      LowCardinality(String),
    tf          LowCardinality(String),
    ts          DateTime64(3, 'UTC'),
    open        Nullable(Float64),
    high        Nullable(Float64),
    low         Nullable(Float64),
    close       Nullable(Float64),
    volume      Nullable(Float64),
    rsi_14      Nullable(Float64),
    macd        Nullable(Float64),
    macd_signal Nullable(Float64),
    macd_hist   Nullable(Float64),
    sma_20      Nullable(Float64),
    sma_50      Nullable(Float64)
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, tf, ts)`, db, barsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    symbol       LowCardinality(String),
    tf           LowCardinality(String),
    generated_at DateTime64(3, 'UTC'),
    as_of        DateTime64(3, 'UTC'),
    horizon      UInt16,
    level        Float64,
    target       LowCardinality(String),
    value        Float64,
    close        Float64,
    cadence      LowCardinality(String),
    solver       LowCardinality(String)
) ENGINE = MergeTree
ORDER BY (symbol, tf, as_of, level)`, db, forecastTable),
	}
}
