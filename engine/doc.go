// Package engine assembles the operation engine from its parts.
//
// A Tracker (package lro) owns configuration, the store, and component
// lifecycle. Build wires the execution coordinator, the retention
// sweeper, the extension registry, and the status projection on top of
// it:
//
//	st := memory.New()
//	tracker, _ := lro.New(lro.WithStore(st), lro.WithConcurrency(4))
//	eng, _ := engine.Build(tracker)
//
//	engine.Register(eng, unit.NewDefinition("report.generate",
//		func(ctx context.Context, in ReportInput) (ReportOutput, error) {
//			unit.ReportProgress(ctx, 50)
//			return render(in)
//		}))
//
//	tracker.Start(ctx)
//	res, _ := eng.Submit(ctx, engine.SubmitRequest{
//		Type:           "report.generate",
//		Input:          payload,
//		IdempotencyKey: "report-2026-08",
//	})
//	st, _ := eng.Status(ctx, res.Op.ID)
//
// Submission is synchronous and cheap; execution happens on the
// coordinator pool. Clients poll Status until the operation settles.
package engine
