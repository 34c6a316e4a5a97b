package docflow_test

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/petrijr/docflow"
)

// Example_pipeline defines a pipeline with a custom step and runs it
// synchronously.
func Example_pipeline() {
	ctx := context.Background()

	shout := docflow.MapStep("shout", func(it docflow.Item) (docflow.Item, bool) {
		it.Content = strings.ToUpper(it.Content)
		return it, true
	})
	def := docflow.Pipeline("shouting").
		Step(docflow.StepDedup, nil).
		Step("shout", nil).
		Definition()

	runner, err := docflow.NewLocalRunner(ctx, docflow.WithSteps(shout), docflow.WithDefinitions(def))
	if err != nil {
		log.Fatal(err)
	}
	defer runner.Close(ctx)

	exec, items, err := runner.Execute(ctx, "shouting", []docflow.Item{
		{ID: "1", Content: "hello gopher"},
		{ID: "2", Content: "Hello  Gopher"},
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(exec.Status, len(items), items[0].Content)
	// Output: completed 1 HELLO GOPHER
}

// Example_documentIngest queues a document and waits for its pipeline.
func Example_documentIngest() {
	ctx := context.Background()

	def := docflow.Pipeline("ingest").
		Step(docflow.StepDedup, nil).
		Step(docflow.StepSummarize, map[string]any{"max_sentences": 1}).
		Definition()

	runner, err := docflow.NewLocalRunner(ctx, docflow.WithDefinitions(def))
	if err != nil {
		log.Fatal(err)
	}
	defer runner.Close(ctx)

	text := "First paragraph about queues.\n\nSecond paragraph about pipelines."
	if _, err := runner.IngestDocument(ctx, "doc-1", "ingest", text); err != nil {
		log.Fatal(err)
	}

	exec, err := runner.WaitForDocument(ctx, "doc-1")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(exec.Status, exec.Metrics.ItemsProcessed)
	// Output: completed 2
}
