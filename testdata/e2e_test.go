package testdata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cfgpkg "danmurec/internal/config"
	"danmurec/internal/segment"
	"danmurec/internal/session"
)

// baseYAML 构造可运行的最小配置；source 段由调用方给出。
func baseYAML(source, outDir string, segmentLength float64) string {
	return source + fmt.Sprintf(`
output:
  dir: %q
  template: rec-%%03d
  description: e2e
  segment_length: %v
  rotate_check: 0.02
  writer_options:
    atomic: false
render:
  width: 1280
  height: 720
retry:
  base_seconds: 0.01
  max_seconds: 0.05
  stop_timeout_seconds: 1
logging:
  level: error
`, outDir, segmentLength)
}

func startSession(t *testing.T, raw string) *session.Session {
	t.Helper()
	cfg, err := cfgpkg.LoadYAML("", []byte(raw))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sc, err := cfgpkg.Assemble(cfg, nil, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	sess, err := session.New(sc)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { sess.Stop(); _ = sess.Wait() })
	return sess
}

// waitFor 轮询直到条件成立或超时。
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("等待超时")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readSegment(t *testing.T, path string) *segment.Document {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	defer f.Close()
	doc, err := segment.Parse(context.Background(), f)
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return doc
}

// 来源前两次连接失败，循环退避重建后继续写出；文件中的事件数与展示计数一致。
func TestE2EFlakyRestarts(t *testing.T) {
	outDir := t.TempDir()
	sess := startSession(t, baseYAML(`source:
  name: flaky
  options:
    failures: 2
    interval_ms: 5
    repeat: true
    messages:
      - name: a
        content: 重连之后
`, outDir, 0))
	waitFor(t, 5*time.Second, func() bool { return sess.Status().Shown >= 3 })
	sess.Stop()
	if err := sess.Wait(); err != nil {
		t.Fatalf("正常停止应返回 nil: %v", err)
	}
	st := sess.Status()
	if st.Restarts < 2 {
		t.Fatalf("重连次数不足: %+v", st)
	}
	doc := readSegment(t, filepath.Join(outDir, "rec-000.ass"))
	if doc.Title != "e2e" || doc.PlayResX != 1280 {
		t.Fatalf("分段头错误: %+v", doc)
	}
	if int64(len(doc.Events)) != st.Shown {
		t.Fatalf("事件数 %d 与展示计数 %d 不一致", len(doc.Events), st.Shown)
	}
	for _, ev := range doc.Events {
		if ev.Text != "重连之后" || ev.End-ev.Start < 9.98 {
			t.Fatalf("事件内容错误: %+v", ev)
		}
	}
}

// 按墙钟轮转：每个分段都以完整头开始，序号连续。
func TestE2ERotation(t *testing.T) {
	outDir := t.TempDir()
	sess := startSession(t, baseYAML(`source:
  name: mock
  options:
    interval_ms: 5
    repeat: true
`, outDir, 0.1))
	waitFor(t, 5*time.Second, func() bool { return sess.Status().Part >= 2 })
	sess.Stop()
	if err := sess.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	last := sess.Status().Part
	total := 0
	for part := 0; part <= last; part++ {
		doc := readSegment(t, filepath.Join(outDir, fmt.Sprintf("rec-%03d.ass", part)))
		if doc.Title != "e2e" {
			t.Fatalf("分段 %d 头错误: %q", part, doc.Title)
		}
		for _, ev := range doc.Events {
			// 分段内时间相对分段起点
			if ev.Start < 0 || ev.Start > 0.1*2+0.05 {
				t.Fatalf("分段 %d 事件起点越界: %v", part, ev.Start)
			}
		}
		total += len(doc.Events)
	}
	if int64(total) != sess.Status().Shown {
		t.Fatalf("事件总数 %d 与展示计数 %d 不一致", total, sess.Status().Shown)
	}
	if _, err := os.Stat(filepath.Join(outDir, fmt.Sprintf("rec-%03d.ass", last+1))); err == nil {
		t.Fatalf("不应存在超前分段")
	}
}

// 回放耗尽后重建实例不会重复投递。
func TestE2EReplayNoDuplicates(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "room.jsonl")
	body := strings.Join([]string{
		`{"msg_type":"danmaku","name":"a","content":"一","color":"ff0000"}`,
		`{"msg_type":"gift","name":"b","content":"礼物"}`,
		`not json`,
		`{"msg_type":"danmaku","name":"c","content":"二"}`,
		`{"msg_type":"danmaku","name":"d","content":"三","color":"zz"}`,
	}, "\n") + "\n"
	if err := os.WriteFile(in, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outDir := filepath.Join(dir, "out")
	sess := startSession(t, baseYAML(fmt.Sprintf(`source:
  name: replay
  target: %q
`, in), outDir, 0))
	waitFor(t, 5*time.Second, func() bool { return sess.Status().Restarts >= 2 })
	sess.Stop()
	if err := sess.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	doc := readSegment(t, filepath.Join(outDir, "rec-000.ass"))
	var texts []string
	for _, ev := range doc.Events {
		texts = append(texts, ev.Text)
	}
	if got := strings.Join(texts, ","); got != "一,二,三" {
		t.Fatalf("回放事件错误: %s", got)
	}
	if doc.Events[0].Color != "ff0000" || doc.Events[1].Color != "" {
		t.Fatalf("颜色映射错误: %+v", doc.Events)
	}
}
