package main

import (
	"flag"
	"fmt"
	"log"
	"math"

	"github.com/tsawler/go-empathy/checkpoints"
)

var (
	registryPath = flag.String("registry", "./ckpts/index.db", "Path to the checkpoint registry")
	epoch        = flag.Int("epoch", -1, "Epoch to inspect (-1 = latest)")
	file         = flag.String("file", "", "Inspect this checkpoint file instead of a registry entry")
	format       = flag.String("format", "json", "Format of -file: json or protobuf")
)

func main() {
	flag.Parse()

	if *file != "" {
		f, err := checkpoints.ParseFormat(*format)
		if err != nil {
			log.Fatalf("Invalid format: %v", err)
		}
		if err := summarize(*file, f); err != nil {
			log.Fatalf("Failed to inspect %s: %v", *file, err)
		}
		return
	}

	registry, err := checkpoints.OpenRegistry(*registryPath)
	if err != nil {
		log.Fatalf("Failed to open registry: %v", err)
	}
	defer registry.Close()

	entries, err := registry.List()
	if err != nil {
		log.Fatalf("Failed to list checkpoints: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No checkpoints recorded")
		return
	}

	fmt.Printf("%-6s %-9s %10s  %-20s %s\n", "EPOCH", "FORMAT", "BYTES", "CREATED", "PATH")
	for _, e := range entries {
		fmt.Printf("%-6d %-9s %10d  %-20s %s\n", e.Epoch, e.Format, e.Size, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Path)
	}

	var entry *checkpoints.Entry
	if *epoch < 0 {
		entry, err = registry.Latest()
	} else {
		entry, err = registry.Get(*epoch)
	}
	if err != nil {
		log.Fatalf("Failed to find checkpoint: %v", err)
	}

	if err := entry.Verify(); err != nil {
		fmt.Printf("\nWARNING: %v\n", err)
	}
	f, err := checkpoints.ParseFormat(entry.Format)
	if err != nil {
		log.Fatalf("Registry entry has %v", err)
	}
	fmt.Println()
	if err := summarize(entry.Path, f); err != nil {
		log.Fatalf("Failed to inspect %s: %v", entry.Path, err)
	}
}

func summarize(path string, f checkpoints.CheckpointFormat) error {
	ckpt, err := checkpoints.NewCheckpointSaver(f).LoadCheckpoint(path)
	if err != nil {
		return err
	}

	fmt.Printf("Checkpoint: %s\n", path)
	fmt.Printf("  Epoch:     %d\n", ckpt.Epoch)
	fmt.Printf("  Framework: %s\n", ckpt.Metadata.Framework)
	fmt.Printf("  Created:   %s\n", ckpt.Metadata.CreatedAt)
	if ckpt.Metadata.Description != "" {
		fmt.Printf("  Note:      %s\n", ckpt.Metadata.Description)
	}
	if len(ckpt.Metadata.Tags) > 0 {
		fmt.Printf("  Tags:      %v\n", ckpt.Metadata.Tags)
	}

	total := 0
	fmt.Printf("\n  %-20s %-12s %12s %12s %12s\n", "PARAMETER", "SHAPE", "MEAN", "MIN", "MAX")
	for _, w := range ckpt.StateDict {
		mean, lo, hi := stats(w.Data)
		total += len(w.Data)
		fmt.Printf("  %-20s %-12v %12.5f %12.5f %12.5f\n", w.Name, w.Shape, mean, lo, hi)
	}
	fmt.Printf("  %d tensors, %d values\n", len(ckpt.StateDict), total)

	if opt := ckpt.Optimizer; opt != nil {
		fmt.Printf("\n  Optimizer: %s, %d state tensors\n", opt.Type, len(opt.StateData))
		for k, v := range opt.Parameters {
			fmt.Printf("    %s = %v\n", k, v)
		}
	}
	return nil
}

func stats(data []float32) (mean, lo, hi float64) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range data {
		x := float64(v)
		mean += x
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return mean / float64(len(data)), lo, hi
}
