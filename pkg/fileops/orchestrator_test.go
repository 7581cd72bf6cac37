package fileops_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // Dot import is idiomatic for Ginkgo
	. "github.com/onsi/gomega"    //nolint:revive // Dot import is idiomatic for Gomega matchers

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/fileops"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/protocol"
)

// location is a source file and a destination directory on one protocol.
type location struct {
	proto protocol.Protocol
	file  string
	dir   string
}

//nolint:gochecknoglobals // fixture table
var locations = []location{
	{protocol.Local, "/src/report.bin", "/dst"},
	{protocol.SMB, "smb://nas/share/src/report.bin", "smb://nas/share/dst"},
	{protocol.SFTP, "sftp://box/home/src/report.bin", "sftp://box/home/dst"},
	{protocol.FTP, "ftp://files/pub/src/report.bin", "ftp://files/pub/dst"},
}

// payload is larger than one progress interval and not a multiple of it.
func payload() []byte {
	return bytes.Repeat([]byte("0123456789abcdef"), (3*fileops.ProgressInterval)/16+7)
}

var _ = Describe("Orchestrator", func() {
	var (
		w   *world
		ctx context.Context
	)

	BeforeEach(func() {
		w = newWorld()
		ctx = context.Background()
	})

	Describe("Copy across protocols", func() {
		for _, src := range locations {
			for _, dst := range locations {
				if src.proto == protocol.Local && dst.proto == protocol.Local {
					continue
				}

				It(fmt.Sprintf("reproduces the bytes from %s to %s", src.proto, dst.proto), func() {
					data := payload()
					w.client(src.proto).AddFile(src.file, data)

					result := w.orch.Execute(ctx, fileops.Copy{
						Sources:     refs(src.file),
						Destination: ref(dst.dir),
					})

					Expect(result).Should(BeAssignableToTypeOf(fileops.Success{}), "%+v", result)

					target := filesystem.RefPath(filesystem.Join(ref(dst.dir), "report.bin"))
					got, err := w.client(dst.proto).ReadFile(target)
					Expect(err).ShouldNot(HaveOccurred())
					Expect(bytes.Equal(got, data)).Should(BeTrue())

					// Copy leaves the source alone.
					Expect(w.client(src.proto).Exists(src.file)).Should(BeTrue())
				})
			}
		}

		It("moves bytes between two servers of one protocol", func() {
			data := payload()
			w.sftp.AddFile("sftp://box/home/a.bin", data)

			result := w.orch.Execute(ctx, fileops.Move{
				Sources:     refs("sftp://box/home/a.bin"),
				Destination: ref("sftp://backup:2222/srv"),
			})

			Expect(result).Should(BeAssignableToTypeOf(fileops.Success{}), "%+v", result)

			got, err := w.sftp.ReadFile("sftp://backup:2222/srv/a.bin")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(bytes.Equal(got, data)).Should(BeTrue())
			Expect(w.sftp.Exists("sftp://box/home/a.bin")).Should(BeFalse())
		})

		It("rejects local to local transfers", func() {
			w.local.AddFile("/src/a.txt", []byte("a"))

			result := w.orch.Execute(ctx, fileops.Copy{Sources: refs("/src/a.txt"), Destination: ref("/dst")})

			failure, ok := result.(fileops.Failure)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(errors.Is(failure, fileops.ErrLocalCopy)).Should(BeTrue())
			Expect(w.local.Exists("/dst")).Should(BeFalse())
		})

		It("refuses to replace an existing file unless asked to", func() {
			w.smb.AddFile("smb://nas/share/a.txt", []byte("new"))
			w.local.AddFile("/dst/a.txt", []byte("old"))

			result := w.orch.Execute(ctx, fileops.Copy{Sources: refs("smb://nas/share/a.txt"), Destination: ref("/dst")})

			failure, ok := result.(fileops.Failure)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(failure.Kind).Should(Equal(fserrors.KindAlreadyExists))
			Expect(failure.Message).Should(ContainSubstring("already exists"))
			Expect(w.local.ReadFile("/dst/a.txt")).Should(Equal([]byte("old")))

			result = w.orch.Execute(ctx, fileops.Copy{
				Sources:     refs("smb://nas/share/a.txt"),
				Destination: ref("/dst"),
				Overwrite:   true,
			})

			Expect(result).Should(BeAssignableToTypeOf(fileops.Success{}))
			Expect(w.local.ReadFile("/dst/a.txt")).Should(Equal([]byte("new")))
		})

		It("creates missing destination directories", func() {
			w.ftp.AddFile("ftp://files/a.txt", []byte("a"))

			result := w.orch.Execute(ctx, fileops.Copy{
				Sources:     refs("ftp://files/a.txt"),
				Destination: ref("smb://nas/share/deep/er/still"),
			})

			Expect(result).Should(BeAssignableToTypeOf(fileops.Success{}), "%+v", result)
			Expect(w.smb.Exists("smb://nas/share/deep/er/still/a.txt")).Should(BeTrue())
		})

		It("removes the partial file when the upload fails", func() {
			w.local.AddFile("/src/a.txt", []byte("payload"))
			w.sftp.Fail(filesystem.OpWrite, "sftp://box/in/a.txt", errors.New("connection reset by peer"))

			result := w.orch.Execute(ctx, fileops.Copy{Sources: refs("/src/a.txt"), Destination: ref("sftp://box/in")})

			failure, ok := result.(fileops.Failure)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(failure.Kind).Should(Equal(fserrors.KindConnection))
			Expect(failure.Suggestions).ShouldNot(BeEmpty())
			Expect(w.sftp.Exists("sftp://box/in/a.txt")).Should(BeFalse())
		})
	})

	Describe("batches", func() {
		It("reports 3 of 5 files as a partial success", func() {
			names := []string{"a", "b", "c", "d", "e"}
			sources := make([]filesystem.FileRef, 0, len(names))

			for _, name := range names {
				uri := "smb://nas/share/in/" + name + ".txt"
				w.smb.AddFile(uri, []byte(name))
				sources = append(sources, ref(uri))
			}

			w.smb.Fail(filesystem.OpRead, "smb://nas/share/in/b.txt", errors.New("disk quota exceeded"))
			w.smb.Fail(filesystem.OpRead, "smb://nas/share/in/d.txt", fs.ErrPermission)

			result := w.orch.Execute(ctx, fileops.Copy{Sources: sources, Destination: ref("/out")})

			partial, ok := result.(fileops.PartialSuccess)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(partial.Succeeded).Should(Equal(3))
			Expect(partial.Failed).Should(Equal(2))
			Expect(partial.ErrorMessages).Should(HaveLen(2))
			Expect(partial.ResultingPaths).Should(Equal(refs("/out/a.txt", "/out/c.txt", "/out/e.txt")))
			Expect(w.local.Exists("/out/b.txt")).Should(BeFalse())
			Expect(w.local.Exists("/out/d.txt")).Should(BeFalse())

			// Undo only covers what succeeded.
			Expect(partial.Undo.CopiedFiles).Should(HaveLen(3))
		})

		It("fails with the first error when nothing succeeds", func() {
			result := w.orch.Execute(ctx, fileops.Copy{
				Sources:     refs("smb://nas/share/missing.txt", "smb://nas/share/gone.txt"),
				Destination: ref("/out"),
			})

			failure, ok := result.(fileops.Failure)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(failure.Kind).Should(Equal(fserrors.KindNotFound))
			Expect(failure.Message).Should(ContainSubstring("missing.txt"))
		})

		It("fails an empty batch", func() {
			result := w.orch.Execute(ctx, fileops.Delete{})

			failure, ok := result.(fileops.Failure)
			Expect(ok).Should(BeTrue())
			Expect(errors.Is(failure, fileops.ErrNoSources)).Should(BeTrue())
		})
	})

	Describe("Move", func() {
		It("keeps the local copy when the SMB source cannot be deleted", func() {
			w.smb.AddFile("smb://nas/share/in/a.txt", []byte("contents"))
			w.smb.Fail(filesystem.OpRemove, "smb://nas/share/in/a.txt", fs.ErrPermission)

			result := w.orch.Execute(ctx, fileops.Move{Sources: refs("smb://nas/share/in/a.txt"), Destination: ref("/dst")})

			failure, ok := result.(fileops.Failure)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(failure.Kind).Should(Equal(fserrors.KindPermission))
			Expect(failure.Message).Should(ContainSubstring("copy was kept"))

			Expect(w.local.ReadFile("/dst/a.txt")).Should(Equal([]byte("contents")))
			Expect(w.smb.Exists("smb://nas/share/in/a.txt")).Should(BeTrue())
			Expect(w.local.Paths()).Should(ConsistOf("local/dst", "local/dst/a.txt"))
		})

		It("renames within one share", func() {
			w.smb.AddFile("smb://nas/share/in/a.txt", []byte("a"))

			result := w.orch.Execute(ctx, fileops.Move{Sources: refs("smb://nas/share/in/a.txt"), Destination: ref("smb://nas/share/out")})

			Expect(result).Should(BeAssignableToTypeOf(fileops.Success{}), "%+v", result)
			Expect(w.smb.Exists("smb://nas/share/in/a.txt")).Should(BeFalse())
			Expect(w.smb.ReadFile("smb://nas/share/out/a.txt")).Should(Equal([]byte("a")))
		})

		It("is undone by moving the files back", func() {
			w.local.AddFile("/photos/a.jpg", []byte("a"))

			result := w.orch.Execute(ctx, fileops.Move{Sources: refs("/photos/a.jpg"), Destination: ref("ftp://files/up")})

			success, ok := result.(fileops.Success)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(w.local.Exists("/photos/a.jpg")).Should(BeFalse())

			undone := w.orch.Undo(ctx, success.Undo)

			Expect(undone).Should(BeAssignableToTypeOf(fileops.Success{}), "%+v", undone)
			Expect(w.local.ReadFile("/photos/a.jpg")).Should(Equal([]byte("a")))
			Expect(w.ftp.Exists("ftp://files/up/a.jpg")).Should(BeFalse())
		})
	})

	Describe("Rename", func() {
		It("fails without changes when the target exists", func() {
			w.smb.AddFile("smb://nas/share/a.txt", []byte("a"))
			w.smb.AddFile("smb://nas/share/b.txt", []byte("b"))

			result := w.orch.Execute(ctx, fileops.Rename{File: ref("smb://nas/share/a.txt"), NewName: "b.txt"})

			failure, ok := result.(fileops.Failure)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(failure.Kind).Should(Equal(fserrors.KindAlreadyExists))
			Expect(failure.Message).Should(ContainSubstring("already exists"))
			Expect(w.smb.ReadFile("smb://nas/share/a.txt")).Should(Equal([]byte("a")))
			Expect(w.smb.ReadFile("smb://nas/share/b.txt")).Should(Equal([]byte("b")))
		})

		It("renames and undoes", func() {
			w.sftp.AddFile("sftp://box/docs/draft.md", []byte("v1"))

			result := w.orch.Execute(ctx, fileops.Rename{File: ref("sftp://box/docs/draft.md"), NewName: "final.md"})

			success, ok := result.(fileops.Success)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(success.ResultingPaths).Should(Equal(refs("sftp://box/docs/final.md")))
			Expect(w.sftp.Exists("sftp://box/docs/final.md")).Should(BeTrue())

			Expect(w.orch.Undo(ctx, success.Undo)).Should(BeAssignableToTypeOf(fileops.Success{}))
			Expect(w.sftp.Exists("sftp://box/docs/draft.md")).Should(BeTrue())
			Expect(w.sftp.Exists("sftp://box/docs/final.md")).Should(BeFalse())
		})

		It("rejects names with separators", func() {
			w.local.AddFile("/a.txt", []byte("a"))

			result := w.orch.Execute(ctx, fileops.Rename{File: ref("/a.txt"), NewName: "../b.txt"})

			failure, ok := result.(fileops.Failure)
			Expect(ok).Should(BeTrue())
			Expect(errors.Is(failure, fileops.ErrInvalidName)).Should(BeTrue())
			Expect(w.local.Exists("/a.txt")).Should(BeTrue())
		})
	})

	Describe("Delete", func() {
		const (
			dir   = "smb://nas/share/photos/2024"
			trash = "smb://nas/share/photos/" + trashName
		)

		var files []string

		BeforeEach(func() {
			files = []string{dir + "/a.jpg", dir + "/b.jpg", dir + "/c.jpg"}
			for _, f := range files {
				w.smb.AddFile(f, []byte(f))
			}
		})

		It("restores soft-deleted files and removes the trash", func() {
			result := w.orch.Execute(ctx, fileops.Delete{Files: refs(files...), SoftDelete: true})

			success, ok := result.(fileops.Success)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(success.Count).Should(Equal(3))
			Expect(success.Undo.Undoable()).Should(BeTrue())
			Expect(success.Undo.CopiedFiles[0]).Should(Equal(ref(trash)))

			for _, f := range files {
				Expect(w.smb.Exists(f)).Should(BeFalse())
			}

			Expect(w.smb.Exists(trash + "/a.jpg")).Should(BeTrue())

			undone := w.orch.Undo(ctx, success.Undo)

			restored, ok := undone.(fileops.Success)
			Expect(ok).Should(BeTrue(), "%+v", undone)
			Expect(restored.Count).Should(Equal(3))

			for _, f := range files {
				Expect(w.smb.ReadFile(f)).Should(Equal([]byte(f)))
			}

			Expect(w.smb.Exists(trash)).Should(BeFalse())
		})

		It("never reports a permanent delete as undone", func() {
			result := w.orch.Execute(ctx, fileops.Delete{Files: refs(files...)})

			success, ok := result.(fileops.Success)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(success.Undo.Undoable()).Should(BeFalse())

			undone := w.orch.Undo(ctx, success.Undo)

			failure, ok := undone.(fileops.Failure)
			Expect(ok).Should(BeTrue())
			Expect(errors.Is(failure, fserrors.ErrNotUndoable)).Should(BeTrue())
			Expect(failure.Kind).Should(Equal(fserrors.KindUnsupported))
		})

		It("deletes permanently when the trash cannot be created", func() {
			w.smb.Fail(filesystem.OpMkdir, trash, fs.ErrPermission)

			result := w.orch.Execute(ctx, fileops.Delete{Files: refs(files...), SoftDelete: true})

			success, ok := result.(fileops.Success)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(success.Undo.Undoable()).Should(BeFalse())

			for _, f := range files {
				Expect(w.smb.Exists(f)).Should(BeFalse())
			}
		})

		It("removes the trash again when nothing could be moved into it", func() {
			for _, f := range files {
				w.smb.Fail(filesystem.OpRename, f, fs.ErrPermission)
			}

			result := w.orch.Execute(ctx, fileops.Delete{Files: refs(files...), SoftDelete: true})

			failure, ok := result.(fileops.Failure)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(failure.Kind).Should(Equal(fserrors.KindPermission))
			Expect(w.smb.Exists(trash)).Should(BeFalse())

			for _, f := range files {
				Expect(w.smb.Exists(f)).Should(BeTrue())
			}
		})

		It("keeps the trash when some files were moved into it", func() {
			w.smb.Fail(filesystem.OpRename, files[1], fs.ErrPermission)

			result := w.orch.Execute(ctx, fileops.Delete{Files: refs(files...), SoftDelete: true})

			partial, ok := result.(fileops.PartialSuccess)
			Expect(ok).Should(BeTrue(), "%+v", result)
			Expect(partial.Succeeded).Should(Equal(2))
			Expect(partial.Undo.CopiedFiles[0]).Should(Equal(ref(trash)))
			Expect(w.smb.Exists(trash + "/a.jpg")).Should(BeTrue())
		})

		It("removes directories with their contents", func() {
			w.smb.AddFile(dir+"/raw/x.cr2", []byte("x"))

			result := w.orch.Execute(ctx, fileops.Delete{Files: refs(dir)})

			Expect(result).Should(BeAssignableToTypeOf(fileops.Success{}), "%+v", result)
			Expect(w.smb.Exists(dir)).Should(BeFalse())
			Expect(w.smb.Exists("smb://nas/share/photos")).Should(BeTrue())
		})
	})

	Describe("progress", func() {
		It("reports every interval, every file and completes once", func() {
			data := payload()
			w.smb.AddFile("smb://nas/share/a.bin", data)
			w.smb.AddFile("smb://nas/share/b.txt", []byte("small"))

			var (
				reports   []int64
				completes int
				total     int64
			)

			result := w.orch.ExecuteWithProgress(ctx, fileops.Copy{
				Sources:     refs("smb://nas/share/a.bin", "smb://nas/share/b.txt"),
				Destination: ref("/dst"),
			}, fileops.Progress{
				OnProgress: func(done int64, _ string) { reports = append(reports, done) },
				OnComplete: func(n int64, _ time.Duration) {
					completes++
					total = n
				},
			})

			Expect(result).Should(BeAssignableToTypeOf(fileops.Success{}))
			Expect(completes).Should(Equal(1))
			Expect(total).Should(Equal(int64(len(data) + len("small"))))

			// Three full intervals plus one report per file.
			Expect(reports).Should(HaveLen(5))
			Expect(reports).Should(HaveEach(BeNumerically(">", 0)))
			Expect(reports[len(reports)-1]).Should(Equal(total))
		})

		It("completes once even for failures", func() {
			completes := 0

			w.orch.ExecuteWithProgress(ctx, fileops.Copy{}, fileops.Progress{
				OnComplete: func(int64, time.Duration) { completes++ },
			})

			Expect(completes).Should(Equal(1))
		})
	})

	Describe("browsing", func() {
		BeforeEach(func() {
			w.sftp.AddFile("sftp://box/media/a.mp3", make([]byte, 10))
			w.sftp.AddFile("sftp://box/media/b.MP3", make([]byte, 2000))
			w.sftp.AddFile("sftp://box/media/notes.txt", []byte("n"))
			w.sftp.AddFile("sftp://box/media/live/c.mp3", make([]byte, 30))
		})

		It("lists one directory", func() {
			entries, err := w.orch.List(ctx, ref("sftp://box/media"), filesystem.Filter{Extensions: []string{"mp3"}})

			Expect(err).ShouldNot(HaveOccurred())
			Expect(entries).Should(HaveLen(2))
		})

		It("scans and counts the tree", func() {
			filter := filesystem.Filter{Extensions: []string{".mp3"}, MaxSize: 1000}

			files, err := w.orch.Scan(ctx, ref("sftp://box/media"), filter)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(files).Should(HaveLen(2))

			count, err := w.orch.Count(ctx, ref("sftp://box/media"), filesystem.Filter{})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(count).Should(Equal(4))
		})

		It("rejects a malformed pattern", func() {
			_, err := w.orch.Scan(ctx, ref("sftp://box/media"), filesystem.Filter{Pattern: "[a-"})

			Expect(err).Should(HaveOccurred())
		})

		It("tests a connection", func() {
			status, err := w.orch.TestConnection(ctx, ref("sftp://box/media"))

			Expect(err).ShouldNot(HaveOccurred())
			Expect(status).Should(ContainSubstring("4 entries"))
		})

		It("explains a failed connection test", func() {
			_, err := w.orch.TestConnection(ctx, ref("sftp://box/nowhere"))

			var actionable fserrors.ActionableError
			Expect(errors.As(err, &actionable)).Should(BeTrue())
			Expect(actionable.Kind()).Should(Equal(fserrors.KindNotFound))
			Expect(actionable.Suggestions()).ShouldNot(BeEmpty())
		})
	})
})
