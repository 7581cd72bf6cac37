package fileops

import (
	"context"
	"fmt"
	"time"

	"github.com/joe/remotefs/pkg/filesystem"
)

// CountProgressCallback is called while counting.
// Parameters: currentPath, countSoFar
type CountProgressCallback func(path string, count int)

// countReportEvery is how many matches pass between two count reports.
const countReportEvery = 10

// TestConnection lists the root of ref's endpoint (or ref itself for local
// paths) and describes the outcome. Errors carry a kind and suggestions.
func (o *Orchestrator) TestConnection(ctx context.Context, ref filesystem.FileRef) (string, error) {
	target, err := o.open(ref)
	if err != nil {
		return "", o.enricher.Enrich(err, refString(ref))
	}

	start := o.now()

	entries, err := target.client.List(ctx, target.path)
	if err != nil {
		return "", o.enricher.Enrich(err, ref.String())
	}

	elapsed := o.now().Sub(start).Round(time.Millisecond)

	return fmt.Sprintf("connected to %s over %s: %d entries in %s",
		ref, target.client.Protocol(), len(entries), elapsed), nil
}

// List returns the entries of a directory that pass filter.
func (o *Orchestrator) List(
	ctx context.Context,
	ref filesystem.FileRef,
	filter filesystem.Filter,
) ([]filesystem.FileInfo, error) {
	target, err := o.prepareBrowse(ref, filter)
	if err != nil {
		return nil, err
	}

	entries, err := target.client.List(ctx, target.path)
	if err != nil {
		return nil, o.enricher.Enrich(err, ref.String())
	}

	matched := entries[:0]

	for _, entry := range entries {
		if filter.Match(entry) {
			matched = append(matched, entry)
		}
	}

	return matched, nil
}

// Scan returns every entry below ref that passes filter.
func (o *Orchestrator) Scan(
	ctx context.Context,
	ref filesystem.FileRef,
	filter filesystem.Filter,
) ([]filesystem.FileInfo, error) {
	target, err := o.prepareBrowse(ref, filter)
	if err != nil {
		return nil, err
	}

	files, err := filesystem.Collect(filesystem.FilterScanner(target.client.Walk(ctx, target.path), filter))
	if err != nil {
		return files, o.enricher.Enrich(err, ref.String())
	}

	return files, nil
}

// Count returns how many entries below ref pass filter.
func (o *Orchestrator) Count(ctx context.Context, ref filesystem.FileRef, filter filesystem.Filter) (int, error) {
	return o.CountWithProgress(ctx, ref, filter, nil)
}

// CountWithProgress counts like Count and reports every tenth match.
func (o *Orchestrator) CountWithProgress(
	ctx context.Context,
	ref filesystem.FileRef,
	filter filesystem.Filter,
	progress CountProgressCallback,
) (int, error) {
	target, err := o.prepareBrowse(ref, filter)
	if err != nil {
		return 0, err
	}

	scanner := filesystem.FilterScanner(target.client.Walk(ctx, target.path), filter)
	count := 0

	for info, ok := scanner.Next(); ok; info, ok = scanner.Next() {
		count++

		// Report progress every 10 files to avoid spam
		if progress != nil && count%countReportEvery == 0 {
			progress(info.Path, count)
		}
	}

	err = scanner.Err()
	if err != nil {
		return count, o.enricher.Enrich(err, ref.String())
	}

	return count, nil
}

func (o *Orchestrator) prepareBrowse(ref filesystem.FileRef, filter filesystem.Filter) (endpoint, error) {
	err := filter.Validate()
	if err != nil {
		return endpoint{}, o.enricher.Enrich(fmt.Errorf("invalid filter pattern %q: %w", filter.Pattern, err), "")
	}

	target, err := o.open(ref)
	if err != nil {
		return endpoint{}, o.enricher.Enrich(err, refString(ref))
	}

	return target, nil
}
