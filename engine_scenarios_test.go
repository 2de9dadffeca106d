package dagflow

import (
	"context"
	"errors"
	"testing"
)

func TestLinearChain(t *testing.T) {
	var order []string
	a := NewTask("a", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		order = append(order, "a")
		return map[string]any{"v": 1}, nil
	})
	b := NewTask("b", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		order = append(order, "b")
		return map[string]any{"v": 2}, nil
	}, DependsOn(a))
	c := NewTask("c", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		order = append(order, "c")
		return map[string]any{"v": 3}, nil
	}, DependsOn(b))

	engine, err := NewBuilder().AddTasks(a, b, c).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	result, err := engine.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected strict a,b,c order, got %v", order)
	}
}

func TestDiamondRunsParallelLevel(t *testing.T) {
	a := NewTask("a", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	b := NewTask("b", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}, DependsOn(a))
	c := NewTask("c", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}, DependsOn(a))
	d := NewTask("d", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}, DependsOn(b, c))

	engine, err := NewBuilder().AddTasks(a, b, c, d).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	result, err := engine.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.TaskResults) != 4 {
		t.Errorf("expected 4 tasks total, got %d", len(result.TaskResults))
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		if tr, ok := result.TaskResults[name]; !ok || tr.Status != StatusCompleted {
			t.Errorf("expected %s completed, got %+v", name, tr)
		}
	}
}

func TestBranchingSkipsUntakenSuccessor(t *testing.T) {
	takeRight := NewTask("right", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	takeLeft := NewTask("left", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	root := NewTask("root", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"go_right": true}, nil
	}, WithBranches(Branch{
		Predicate: func(ctx context.Context, snapshot map[string]any) bool {
			v, _ := snapshot["go_right"].(bool)
			return v
		},
		Successors: []*Task{takeRight},
	}), WithDefaultSuccessors(takeLeft))

	engine, err := NewBuilder().AddTasks(root, takeLeft, takeRight).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	result, err := engine.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.TaskResults["right"].Status != StatusCompleted {
		t.Errorf("expected right branch to run, got %+v", result.TaskResults["right"])
	}
	if result.TaskResults["left"].Status != StatusSkipped {
		t.Errorf("expected left branch to be skipped, got %+v", result.TaskResults["left"])
	}
}

func TestDynamicGenerationViaOnTaskComplete(t *testing.T) {
	seed := NewTask("seed", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"count": 2}, nil
	})

	b := NewBuilder().AddTask(seed).OnTaskComplete("seed", func(ctx context.Context, output map[string]any) []*Task {
		n, _ := output["count"].(int)
		tasks := make([]*Task, 0, n)
		for i := 0; i < n; i++ {
			tasks = append(tasks, NewTask("generated", func(ctx context.Context, in map[string]any) (map[string]any, error) {
				return map[string]any{}, nil
			}))
		}
		return tasks
	})

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	result, err := engine.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.DynamicTasksGenerated != 2 {
		t.Errorf("expected 2 dynamically generated tasks, got %d", result.DynamicTasksGenerated)
	}
}

func TestCycleDetectedAtBuildTime(t *testing.T) {
	a := NewTask("a", nil)
	c := NewTask("c", nil)
	b := NewTask("b", nil, DependsOn(a))
	// Wire a -> b -> c -> a, forming a cycle.
	a.dependsOn = append(a.dependsOn, c)
	c.dependsOn = append(c.dependsOn, b)

	_, err := NewBuilder().AddTasks(a, b, c).Build()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
}

func TestFailedPredecessorDoesNotCascadeSkip(t *testing.T) {
	failing := NewTask("failing", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	downstream := NewTask("downstream", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}, DependsOn(failing))

	// A registered strategy selects the strategy-driven engine, which
	// continues past failures; the static engine stops after a failed level.
	noop := &DynamicStrategy{Name: "noop", Predicate: func(context.Context, map[string]any, map[string]any, *Context) bool { return false }}
	engine, err := NewBuilder().AddTasks(failing, downstream).AddDynamicStrategy(noop).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	result, _ := engine.Execute(context.Background(), nil)
	if result.TaskResults["failing"].Status != StatusFailed {
		t.Errorf("expected failing task marked failed, got %+v", result.TaskResults["failing"])
	}
	if result.TaskResults["downstream"].Status != StatusCompleted {
		t.Errorf("a failed predecessor must not cascade a skip: expected downstream completed, got %+v", result.TaskResults["downstream"])
	}
}

func TestStreamingContractEmitsChunksAndResult(t *testing.T) {
	task := NewStreamingTask("step", func(ctx context.Context, in map[string]any, yield func(StreamChunk) bool) (map[string]any, error) {
		yield(StreamChunk{Kind: ChunkProgress, TaskName: "step", Progress: 50})
		return map[string]any{"done": true}, nil
	})

	streamEngine, err := NewBuilder().AddTask(task).BuildStreaming()
	if err != nil {
		t.Fatalf("build streaming: %v", err)
	}

	stream := streamEngine.ExecuteStream(context.Background(), nil)
	var sawTaskProgress bool
	for chunk := range stream.Chan() {
		if chunk.TaskName == "step" && chunk.Kind == ChunkProgress {
			sawTaskProgress = true
		}
	}
	if !sawTaskProgress {
		t.Error("expected at least one progress chunk from the task itself")
	}

	result, err := stream.Result()
	if err != nil {
		t.Fatalf("stream result: %v", err)
	}
	if !result.Success {
		t.Errorf("expected successful result, got %+v", result)
	}
}

func TestLLMStreamingEmitsLifecycleEventsAndSyntheticText(t *testing.T) {
	plain := NewTask("plain", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	llmTask := NewLLMStreamingTask("llm", func(ctx context.Context, in map[string]any) (LLMStreamHandles, error) {
		textCh := make(chan string, 1)
		eventsCh := make(chan LLMEvent)
		doneCh := make(chan TaskDoneSignal, 1)
		textCh <- "hello "
		close(textCh)
		close(eventsCh)
		doneCh <- TaskDoneSignal{Output: map[string]any{"said": "hello"}}
		return LLMStreamHandles{Text: textCh, Events: eventsCh, Done: doneCh}, nil
	}, DependsOn(plain))

	engine, err := NewBuilder().AddTasks(plain, llmTask).BuildLLMStreaming()
	if err != nil {
		t.Fatalf("build llm streaming: %v", err)
	}

	stream := engine.ExecuteStream(context.Background(), nil)

	var sawRunStart, sawPlainStart, sawPlainComplete, sawLLMStart, sawLLMComplete bool
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for ev := range stream.FullStream() {
			switch {
			case ev.Kind == "run_start":
				sawRunStart = true
			case ev.Kind == "task_start" && ev.TaskName == "plain":
				sawPlainStart = true
			case ev.Kind == "task_complete" && ev.TaskName == "plain":
				sawPlainComplete = true
			case ev.Kind == "task_start" && ev.TaskName == "llm":
				sawLLMStart = true
			case ev.Kind == "task_complete" && ev.TaskName == "llm":
				sawLLMComplete = true
			}
		}
	}()

	var sawSyntheticCompletion bool
	for text := range stream.TextStream() {
		if text == "[plain] Task completed\n" {
			sawSyntheticCompletion = true
		}
	}
	<-eventsDone

	result, err := stream.Result()
	if err != nil {
		t.Fatalf("llm stream result: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful result, got %+v", result)
	}
	if !sawRunStart || !sawPlainStart || !sawPlainComplete || !sawLLMStart || !sawLLMComplete {
		t.Errorf("missing lifecycle events: run_start=%v plain_start=%v plain_complete=%v llm_start=%v llm_complete=%v",
			sawRunStart, sawPlainStart, sawPlainComplete, sawLLMStart, sawLLMComplete)
	}
	if !sawSyntheticCompletion {
		t.Error("expected synthetic \"[plain] Task completed\" line on the text stream")
	}
}

func TestWhenConditionRequiresAtLeastOneCompletedTask(t *testing.T) {
	failing := NewTask("failing", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	var fired bool
	engine, err := NewBuilder().
		AddTask(failing).
		WhenCondition("always-true", func(ctx context.Context, snapshot map[string]any) bool {
			return true
		}, func(ctx context.Context, snapshot map[string]any) []*Task {
			fired = true
			return nil
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	result, err := engine.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.TaskResults["failing"].Status != StatusFailed {
		t.Fatalf("expected the only task to fail (never complete), got %+v", result.TaskResults["failing"])
	}
	if fired {
		t.Error("expected WhenCondition not to fire: no task has completed")
	}
}

func TestWhenConditionFiresAfterCompletionWhenPredicateHolds(t *testing.T) {
	seed := NewTask("seed", func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"ready": true}, nil
	})

	engine, err := NewBuilder().
		AddTask(seed).
		WhenCondition("ready-check", func(ctx context.Context, snapshot map[string]any) bool {
			ready, _ := snapshot["ready"].(bool)
			return ready
		}, func(ctx context.Context, snapshot map[string]any) []*Task {
			return []*Task{NewTask("generated", func(ctx context.Context, in map[string]any) (map[string]any, error) {
				return map[string]any{}, nil
			})}
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	result, err := engine.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.DynamicTasksGenerated != 1 {
		t.Errorf("expected WhenCondition to fire once predicate holds, got %d dynamic tasks", result.DynamicTasksGenerated)
	}
	if result.TaskResults["generated"].Status != StatusCompleted {
		t.Errorf("expected generated task to run, got %+v", result.TaskResults["generated"])
	}
}
