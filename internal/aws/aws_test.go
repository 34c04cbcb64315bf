package aws

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	ttypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embano1/transcribe-worker/internal/engine"
	"github.com/embano1/transcribe-worker/internal/types"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	deleted []string
	getErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]string{}} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	f.deleted = append(f.deleted, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if *in.Bucket != "media" {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func TestDownload(t *testing.T) {
	fake := newFakeS3()
	fake.objects["clip.mp4"] = "media-bytes"
	svc := NewS3Service(fake)

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	n, err := svc.Download(context.Background(), "media", "clip.mp4", dest)
	require.NoError(t, err)
	assert.EqualValues(t, len("media-bytes"), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "media-bytes", string(data))
}

func TestDownloadNotFound(t *testing.T) {
	svc := NewS3Service(newFakeS3())
	dest := filepath.Join(t.TempDir(), "missing.wav")

	_, err := svc.Download(context.Background(), "media", "missing.wav", dest)
	var objErr *ObjectError
	require.ErrorAs(t, err, &objErr)
	assert.True(t, objErr.NotFound())
	assert.False(t, objErr.AccessDenied())
	assert.Equal(t, "NoSuchKey: The specified key does not exist.", objErr.Error())

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadAccessDenied(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}
	svc := NewS3Service(fake)

	_, err := svc.Download(context.Background(), "media", "x.wav", filepath.Join(t.TempDir(), "x.wav"))
	var objErr *ObjectError
	require.ErrorAs(t, err, &objErr)
	assert.True(t, objErr.AccessDenied())
	assert.False(t, objErr.NotFound())
}

func TestDownloadTransportError(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("dial tcp: connection refused")
	svc := NewS3Service(fake)

	_, err := svc.Download(context.Background(), "media", "x.wav", filepath.Join(t.TempDir(), "x.wav"))
	var objErr *ObjectError
	require.ErrorAs(t, err, &objErr)
	assert.Empty(t, objErr.Code)
	assert.Equal(t, "dial tcp: connection refused", objErr.Error())
}

func TestHeadBucket(t *testing.T) {
	svc := NewS3Service(newFakeS3())
	require.NoError(t, svc.HeadBucket(context.Background(), "media"))

	err := svc.HeadBucket(context.Background(), "other")
	var objErr *ObjectError
	require.ErrorAs(t, err, &objErr)
	assert.True(t, objErr.NotFound())
}

func TestLanguageCode(t *testing.T) {
	cases := map[string]ttypes.LanguageCode{
		"en":    ttypes.LanguageCodeEnUs,
		"de":    ttypes.LanguageCodeDeDe,
		"en-GB": ttypes.LanguageCodeEnGb,
		"fr":    ttypes.LanguageCodeFrFr,
	}
	for in, want := range cases {
		got, err := LanguageCode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := LanguageCode("not a language")
	require.Error(t, err)
}

type fakeTranscribe struct {
	mu       sync.Mutex
	s3       *fakeS3
	started  []*transcribe.StartTranscriptionJobInput
	deleted  []string
	polls    int
	failWith string
	language string
}

func (f *fakeTranscribe) StartTranscriptionJob(_ context.Context, in *transcribe.StartTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, in)
	return &transcribe.StartTranscriptionJobOutput{}, nil
}

func (f *fakeTranscribe) GetTranscriptionJob(_ context.Context, in *transcribe.GetTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	job := &ttypes.TranscriptionJob{TranscriptionJobName: in.TranscriptionJobName}
	switch {
	case f.polls < 2:
		job.TranscriptionJobStatus = ttypes.TranscriptionJobStatusInProgress
	case f.failWith != "":
		job.TranscriptionJobStatus = ttypes.TranscriptionJobStatusFailed
		job.FailureReason = &f.failWith
	default:
		job.TranscriptionJobStatus = ttypes.TranscriptionJobStatusCompleted
		job.LanguageCode = ttypes.LanguageCode(f.language)
		start := f.started[len(f.started)-1]
		f.s3.mu.Lock()
		f.s3.objects[*start.OutputKey] = `{"jobName":"x","results":{"transcripts":[{"transcript":"Hello world."}],"items":[` +
			`{"type":"pronunciation","start_time":"0.1","end_time":"0.5","alternatives":[{"confidence":"0.9","content":"Hello"}]},` +
			`{"type":"pronunciation","start_time":"0.6","end_time":"1.0","alternatives":[{"confidence":"0.8","content":"world"}]},` +
			`{"type":"punctuation","alternatives":[{"confidence":"0.0","content":"."}]}]},"status":"COMPLETED"}`
		f.s3.mu.Unlock()
	}
	return &transcribe.GetTranscriptionJobOutput{TranscriptionJob: job}, nil
}

func (f *fakeTranscribe) DeleteTranscriptionJob(_ context.Context, in *transcribe.DeleteTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.DeleteTranscriptionJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *in.TranscriptionJobName)
	return &transcribe.DeleteTranscriptionJobOutput{}, nil
}

func writeAudio(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(p, []byte("RIFF"), 0o644))
	return p
}

func TestTranscribeEngineAutoDetect(t *testing.T) {
	s3fake := newFakeS3()
	tr := &fakeTranscribe{s3: s3fake, language: "en-US"}
	eng := NewTranscribeEngine(NewS3Service(s3fake), tr, TranscribeOptions{Bucket: "media", PollInterval: time.Millisecond})

	model, err := eng.LoadModel(context.Background(), engine.ModelSpec{Size: "large-v3"})
	require.NoError(t, err)
	assert.Equal(t, EngineName, model.Name())

	transcript, err := model.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	assert.Equal(t, "en", transcript.Language)
	require.Len(t, transcript.Segments, 1)
	assert.Equal(t, "Hello world.", transcript.Segments[0].Text)

	require.Len(t, tr.started, 1)
	start := tr.started[0]
	require.NotNil(t, start.IdentifyLanguage)
	assert.True(t, *start.IdentifyLanguage)
	assert.Empty(t, start.LanguageCode)
	assert.Equal(t, ttypes.MediaFormatWav, start.MediaFormat)
	assert.True(t, strings.HasPrefix(*start.Media.MediaFileUri, "s3://media/scratch/"))

	require.NoError(t, model.Release())
	require.NoError(t, model.Release())
	assert.Empty(t, s3fake.objects)
	assert.Len(t, s3fake.deleted, 2)
	assert.Equal(t, []string{*start.TranscriptionJobName}, tr.deleted)
}

func TestTranscribeEngineExplicitLanguage(t *testing.T) {
	s3fake := newFakeS3()
	tr := &fakeTranscribe{s3: s3fake}
	eng := NewTranscribeEngine(NewS3Service(s3fake), tr, TranscribeOptions{Bucket: "media", PollInterval: time.Millisecond})

	model, err := eng.LoadModel(context.Background(), engine.ModelSpec{Language: "de"})
	require.NoError(t, err)
	defer model.Release()

	transcript, err := model.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	assert.Equal(t, types.UnknownLanguage, transcript.Language)
	assert.Equal(t, ttypes.LanguageCodeDeDe, tr.started[0].LanguageCode)
	assert.Nil(t, tr.started[0].IdentifyLanguage)
}

func TestTranscribeEngineUnsupportedLanguage(t *testing.T) {
	eng := NewTranscribeEngine(NewS3Service(newFakeS3()), &fakeTranscribe{}, TranscribeOptions{Bucket: "media"})
	_, err := eng.LoadModel(context.Background(), engine.ModelSpec{Language: "not a language"})
	require.ErrorIs(t, err, engine.ErrModelLoad)
}

func TestTranscribeEngineJobFailure(t *testing.T) {
	s3fake := newFakeS3()
	tr := &fakeTranscribe{s3: s3fake, failWith: "unsupported media"}
	eng := NewTranscribeEngine(NewS3Service(s3fake), tr, TranscribeOptions{Bucket: "media", PollInterval: time.Millisecond})

	model, err := eng.LoadModel(context.Background(), engine.ModelSpec{})
	require.NoError(t, err)

	_, err = model.Transcribe(context.Background(), writeAudio(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported media")

	require.NoError(t, model.Release())
	assert.Empty(t, s3fake.objects)
	assert.Len(t, tr.deleted, 1)
}

func TestPassthroughAligner(t *testing.T) {
	eng := NewTranscribeEngine(NewS3Service(newFakeS3()), &fakeTranscribe{}, TranscribeOptions{})
	aligner, err := eng.LoadAligner(context.Background(), "en", "cpu")
	require.NoError(t, err)
	in := []types.Segment{{Start: 1, End: 2, Text: "x"}}
	out, err := aligner.Align(context.Background(), in, "a.wav")
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.NoError(t, aligner.Release())
}
