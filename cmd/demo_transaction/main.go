package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zhukovaskychina/xvm-runtime/conf"
	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/vm/arena"
	"github.com/zhukovaskychina/xvm-runtime/vm/gc"
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
	"github.com/zhukovaskychina/xvm-runtime/vm/image"
	"github.com/zhukovaskychina/xvm-runtime/vm/interner"
	"github.com/zhukovaskychina/xvm-runtime/vm/txn"
)

func main() {
	configPath := flag.String("config", "", "path to xvm ini config")
	flag.Parse()

	cfg := conf.NewCfg()
	if *configPath != "" {
		if err := cfg.Load(*configPath); err != nil {
			fmt.Printf("ERROR: load config failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := logger.InitLogger(logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}); err != nil {
		fmt.Printf("ERROR: init logger failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Transaction Journal Demo ===")

	h := heap.NewHeap()
	it := interner.NewInternTable()
	pool := arena.NewPool(cfg.ArenaChunkSize)
	tm := txn.NewTransactionManager(pool, h, it)
	collector := gc.NewCollector(h)
	collector.RegisterRootSource(it)
	collector.RegisterWeakTable(it)

	fmt.Println("\n1. Committing a transaction...")
	demoCommit(h, it, tm)

	fmt.Println("\n2. Rolling back a transaction...")
	demoRollback(h, it, tm)

	fmt.Println("\n3. Strict-mode access constraints...")
	demoStrictAbort(h, tm)

	fmt.Println("\n4. GC with an active transaction...")
	demoGCWithTransaction(h, it, pool, collector)

	fmt.Println("\n5. Writing the app image...")
	demoImageWrite(cfg, h, it)

	entered, committed, rolledBack := tm.Stats()
	fmt.Printf("\n=== Done: %d transactions (%d committed, %d rolled back) ===\n",
		entered, committed, rolledBack)
}

func demoCommit(h *heap.Heap, it *interner.InternTable, tm *txn.TransactionManager) {
	configClass := heap.NewClass("com.example.AppConfig")
	config := h.AllocObject(configClass, 2)

	t := tm.EnterTransactionMode(false, configClass)
	t.RecordWriteField32(config, 0, uint32(config.FieldInt32(0)), false)
	config.SetFieldInt32(0, 8080)
	t.RecordWriteFieldReference(config, 1, config.FieldReference(1), false)
	h.SetFieldReference(config, 1, it.InternStrong(h, "production"))

	if err := tm.ExitTransactionMode(); err != nil {
		fmt.Printf("ERROR: commit failed: %v\n", err)
		return
	}
	fmt.Printf("✓ committed: port=%d profile=%q\n",
		config.FieldInt32(0), config.FieldReference(1).UTF())
}

func demoRollback(h *heap.Heap, it *interner.InternTable, tm *txn.TransactionManager) {
	counterClass := heap.NewClass("com.example.Counters")
	counters := h.AllocObject(counterClass, 1)
	counters.SetFieldInt64(0, 100)
	histogram := h.AllocArray(heap.NewArrayClass("long[]", heap.KindLong), 4)
	histogram.SetElemBits(2, 7)

	t := tm.EnterTransactionMode(false, counterClass)

	// 初始化器跑到一半：改字段、改数组、驻留字符串、新建对象
	t.RecordWriteField64(counters, 0, counters.FieldBits(0), false)
	counters.SetFieldInt64(0, 999)
	t.RecordWriteArray(histogram, 2, histogram.ElemBits(2))
	histogram.SetElemBits(2, 42)
	s := it.InternStrong(h, "half-initialized")
	t.RecordStrongStringInsertion(s)
	scratch := h.AllocObject(counterClass, 1)
	t.RecordNewObject(scratch)
	scratch.SetFieldInt64(0, -1)

	if err := tm.RollbackAndExitTransactionMode(); err != nil {
		fmt.Printf("ERROR: rollback failed: %v\n", err)
		return
	}
	fmt.Printf("✓ rolled back: counter=%d histogram[2]=%d interned=%v\n",
		counters.FieldInt64(0), histogram.ElemBits(2), it.LookupStrong("half-initialized") != nil)
}

func demoStrictAbort(h *heap.Heap, tm *txn.TransactionManager) {
	initClass := heap.NewClass("com.example.StrictInit")
	otherClass := heap.NewClass("com.example.Unrelated")
	foreign := h.AllocObject(otherClass, 1)

	t := tm.EnterTransactionMode(true, initClass)
	if t.WriteConstraint(foreign) {
		err := t.ThrowAbortError("initializer of %s touched static state of %s",
			initClass.Name(), otherClass.Name())
		fmt.Printf("✓ constraint violation detected: %v\n", err)
		fmt.Printf("✓ abort error recognized: %v, message: %q\n",
			txn.IsAbortError(err), t.AbortMessage())
	}
	if err := tm.RollbackAndExitTransactionMode(); err != nil {
		fmt.Printf("ERROR: rollback failed: %v\n", err)
	}
}

func demoGCWithTransaction(h *heap.Heap, it *interner.InternTable, pool *arena.Pool, collector *gc.Collector) {
	nodeClass := heap.NewClass("com.example.Node")
	holder := h.AllocObject(nodeClass, 1)
	old := h.AllocString("reachable only from the journal")
	h.SetFieldReference(holder, 0, old)

	t := txn.NewTransaction(false, nodeClass, nil, pool)
	collector.RegisterRootSource(t)

	t.RecordWriteFieldReference(holder, 0, holder.FieldReference(0), false)
	h.SetFieldReference(holder, 0, nil)

	stats := collector.Collect()
	fmt.Printf("✓ collected with live journal: marked=%d reclaimed=%d, old value alive=%v\n",
		stats.Marked, stats.Reclaimed, h.Contains(old))

	t.Rollback(h, it)
	collector.UnregisterRootSource(t)
	t.Release()
	fmt.Printf("✓ journal released, holder restored=%v\n", holder.FieldReference(0) == old)
}

func demoImageWrite(cfg *conf.Cfg, h *heap.Heap, it *interner.InternTable) {
	if err := os.MkdirAll(cfg.ImageDir, 0755); err != nil {
		fmt.Printf("ERROR: create image dir failed: %v\n", err)
		return
	}
	path := filepath.Join(cfg.ImageDir, "demo.xvmi")
	id, err := image.NewWriter(h, it).WriteFile(path)
	if err != nil {
		fmt.Printf("ERROR: image write failed: %v\n", err)
		return
	}

	img, err := image.ReadFile(path)
	if err != nil {
		fmt.Printf("ERROR: image read failed: %v\n", err)
		return
	}
	fmt.Printf("✓ image %s written to %s (%d objects, %d interned strings)\n",
		id, path, img.Heap.NumObjects(), img.Interner.StrongSize())
}
