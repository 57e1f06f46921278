package datastore

import "context"

type Skip struct {
	TotalCount bool
}

type ctxKeySkip struct{}

// WithSkip tells FindAll implementations which parts of the result the caller
// does not need, such as the extra count query behind TotalCount.
func WithSkip(ctx context.Context, skip Skip) context.Context {
	return context.WithValue(ctx, ctxKeySkip{}, skip)
}

func GetSkip(ctx context.Context) Skip {
	skip, _ := ctx.Value(ctxKeySkip{}).(Skip)
	return skip
}

type ctxKeyRecordProcessor struct{}

// WithRecordProcessor installs a function applied by stores to every record
// they read.
func WithRecordProcessor(ctx context.Context, processor func(ctx context.Context, record Record) (Record, error)) context.Context {
	return context.WithValue(ctx, ctxKeyRecordProcessor{}, processor)
}

func GetRecordProcessor(ctx context.Context) func(ctx context.Context, record Record) (Record, error) {
	processor, _ := ctx.Value(ctxKeyRecordProcessor{}).(func(ctx context.Context, record Record) (Record, error))
	return processor
}

// ProcessRecords applies the record processor of ctx, if any, to records in
// place.
func ProcessRecords(ctx context.Context, records []Record) error {
	processor := GetRecordProcessor(ctx)
	if processor == nil {
		return nil
	}
	for i, record := range records {
		processed, err := processor(ctx, record)
		if err != nil {
			return err
		}
		records[i] = processed
	}
	return nil
}
