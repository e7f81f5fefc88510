package api

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/assembler"
	"github.com/gowvp/skylapse/internal/core/instance"
	"github.com/gowvp/skylapse/internal/core/query"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/gowvp/skylapse/pkg/timewin"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
	"github.com/jinzhu/copier"
)

// ResourceAPI 为 http 提供业务方法
type ResourceAPI struct {
	storage   storage.Core
	query     query.Core
	assembler assembler.Core
	conf      *conf.Bootstrap
}

func NewResourceAPI(store storage.Core, q query.Core, asm assembler.Core, conf *conf.Bootstrap) ResourceAPI {
	return ResourceAPI{storage: store, query: q, assembler: asm, conf: conf}
}

func RegisterResource(g gin.IRouter, api ResourceAPI, handler ...gin.HandlerFunc) {
	{
		group := g.Group("/resources/:number", handler...)
		group.POST("/instances", api.storeInstance)
		group.GET("/instances", web.WrapH(api.findInstances))
		group.PUT("/daylong", api.storeDayLong)
		group.GET("/daylong", web.WrapH(api.findDayLong))
		group.PUT("/defaults/day", api.storeDefault(true))
		group.PUT("/defaults/night", api.storeDefault(false))
		group.GET("/path", web.WrapH(api.resolvePath))
		group.GET("/files", web.WrapH(api.findFiles))
		group.GET("/folders", web.WrapH(api.findFolders))
		// HLS 播放列表，按时间范围拼接小时视频
		group.GET("/index.m3u8", api.playlist)
		group.POST("/assemble", web.WrapH(api.assemble))
		group.POST("/hours", web.WrapH(api.buildHour))
	}
	{
		group := g.Group("/generic", handler...)
		group.PUT("/nodata", api.storeGenericNoData)
		group.POST("/daylong", web.WrapH(api.buildGenericDayLong))
	}

	// 静态文件服务，Gin Static 支持 HTTP Range 请求
	slog.Info("注册媒体静态文件服务", "path", mediaPrefix, "dir", api.storage.Layout().Root)
	g.Static(mediaPrefix, api.storage.Layout().Root)
}

func (a ResourceAPI) registry() *resource.Registry {
	return a.storage.Registry()
}

// resourceParam 解析路径中的资源编号，只接受启用的资源
func (a ResourceAPI) resourceParam(c *gin.Context) (*resource.Resource, error) {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		return nil, reason.ErrBadRequest.SetMsg("invalid resource number")
	}
	res, err := a.registry().Get(n)
	if err != nil {
		return nil, toReason(err)
	}
	return res, nil
}

func mediaURL(path string) string {
	return mediaPrefix + "/" + filepath.ToSlash(path)
}

func toInstanceOutput(item *query.Item) *instanceOutput {
	if item == nil {
		return nil
	}
	var out instanceOutput
	_ = copier.Copy(&out, item.Instance)
	out.Kind = item.Kind.String()
	out.Path = item.Path
	out.URL = mediaURL(item.Path)
	return &out
}

func rangeOf(in web.DateFilter) instance.Range {
	return instance.Range{Start: time.UnixMilli(in.StartMs), Stop: time.UnixMilli(in.EndMs)}
}

// findInstances 把范围等分为 count 个桶，每个桶返回 ±5s 内最接近的实例
func (a ResourceAPI) findInstances(c *gin.Context, in *findInstancesInput) (*findInstancesOutput, error) {
	res, err := a.resourceParam(c)
	if err != nil {
		return nil, err
	}
	req := query.Request{
		Resource:     res.Number,
		Range:        rangeOf(in.DateFilter),
		DesiredCount: in.Count,
		Video:        in.Video,
	}
	if in.Format != "" {
		if req.Format, err = instance.ParseFormat(in.Format); err != nil {
			return nil, reason.ErrBadRequest.SetMsg(err.Error())
		}
	}
	ret, err := a.query.GetInstances(c.Request.Context(), req)
	if err != nil {
		return nil, toReason(err)
	}

	out := findInstancesOutput{
		Items:          make([]*instanceOutput, len(ret.Items)),
		Pending:        make([]bool, len(ret.Items)),
		AvailableUntil: ret.AvailableUntil,
	}
	for i, item := range ret.Items {
		out.Pending[i] = ret.Pending(i)
		if item == nil {
			continue
		}
		if in.Payload {
			if err := a.query.LoadPayload(item); err != nil {
				return nil, toReason(err)
			}
		}
		out.Items[i] = toInstanceOutput(item)
		out.Items[i].Payload = item.Payload
	}
	return &out, nil
}

// findDayLong 标准与低码率两个列表，同位置要么都有要么都为空
func (a ResourceAPI) findDayLong(c *gin.Context, in *findDayLongInput) (*findDayLongOutput, error) {
	res, err := a.resourceParam(c)
	if err != nil {
		return nil, err
	}
	std, low, err := a.query.GetDayLongPair(c.Request.Context(), query.Request{
		Resource:     res.Number,
		Range:        rangeOf(in.DateFilter),
		DesiredCount: in.Count,
	})
	if err != nil {
		return nil, toReason(err)
	}
	out := findDayLongOutput{
		Standard:       make([]*instanceOutput, len(std.Items)),
		Low:            make([]*instanceOutput, len(low.Items)),
		AvailableUntil: std.AvailableUntil,
	}
	for i := range std.Items {
		out.Standard[i] = toInstanceOutput(std.Items[i])
		out.Low[i] = toInstanceOutput(low.Items[i])
	}
	return &out, nil
}

func (a ResourceAPI) resolvePath(c *gin.Context, in *resolvePathInput) (any, error) {
	res, err := a.resourceParam(c)
	if err != nil {
		return nil, err
	}
	p, err := a.query.ResolvePath(res.Number, time.UnixMilli(in.DateMs), in.DayLong, in.Low)
	if err != nil {
		return nil, toReason(err)
	}
	return gin.H{"path": p}, nil
}

func (a ResourceAPI) findFiles(c *gin.Context, in *findFilesInput) (any, error) {
	res, err := a.resourceParam(c)
	if err != nil {
		return nil, err
	}
	req := query.Request{Resource: res.Number, Range: rangeOf(in.DateFilter)}
	if in.Format != "" {
		if req.Format, err = instance.ParseFormat(in.Format); err != nil {
			return nil, reason.ErrBadRequest.SetMsg(err.Error())
		}
	}
	files, err := a.query.ListMatchingFiles(c.Request.Context(), req)
	if err != nil {
		return nil, toReason(err)
	}
	root := a.storage.Layout().Root
	items := make([]string, 0, len(files))
	for _, f := range files {
		if rel, err := filepath.Rel(root, f); err == nil {
			f = rel
		}
		items = append(items, filepath.ToSlash(f))
	}
	return gin.H{"items": items, "total": len(items)}, nil
}

func (a ResourceAPI) findFolders(c *gin.Context, _ *struct{}) (any, error) {
	res, err := a.resourceParam(c)
	if err != nil {
		return nil, err
	}
	folders, err := a.query.ListFolders(res.Number)
	if err != nil {
		return nil, toReason(err)
	}
	return gin.H{"items": folders, "total": len(folders)}, nil
}

// playlist 生成 HLS m3u8 播放列表
// 路径: /resources/:number/index.m3u8?start_ms=xxx&end_ms=xxx
func (a ResourceAPI) playlist(c *gin.Context) {
	res, err := a.resourceParam(c)
	if err != nil {
		web.Fail(c, err)
		return
	}
	startMs, _ := strconv.ParseInt(c.Query("start_ms"), 10, 64)
	endMs, _ := strconv.ParseInt(c.Query("end_ms"), 10, 64)
	if startMs <= 0 || endMs <= 0 {
		web.Fail(c, reason.ErrBadRequest.SetMsg("start_ms and end_ms are required"))
		return
	}

	pl, err := a.query.Playlist(c.Request.Context(), query.Request{
		Resource: res.Number,
		Range:    instance.Range{Start: time.UnixMilli(startMs), Stop: time.UnixMilli(endMs)},
	}, mediaURL)
	if err != nil {
		web.Fail(c, toReason(err))
		return
	}
	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("Cache-Control", "no-cache")
	c.String(http.StatusOK, pl.String())
}

// assemble 立即合成某天的日视频对
func (a ResourceAPI) assemble(c *gin.Context, in *assembleInput) (*assembler.Result, error) {
	res, err := a.resourceParam(c)
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation(time.DateOnly, in.Day, res.Location)
	if err != nil {
		return nil, reason.ErrBadRequest.SetMsg("day must be formatted as 2006-01-02")
	}
	result, err := a.assembler.AssembleDay(c.Request.Context(), res.Number, day)
	if err != nil {
		return nil, toReason(err)
	}
	return &result, nil
}

func (a ResourceAPI) buildHour(c *gin.Context, in *buildHourInput) (any, error) {
	res, err := a.resourceParam(c)
	if err != nil {
		return nil, err
	}
	hour := time.UnixMilli(in.HourMs)
	if err := a.assembler.BuildHourVideo(c.Request.Context(), res.Number, hour); err != nil {
		return nil, toReason(err)
	}
	return gin.H{"hour": timewin.FormatTimestamp(hour, res.Location)}, nil
}

func (a ResourceAPI) buildGenericDayLong(c *gin.Context, _ *struct{}) (any, error) {
	if err := a.assembler.BuildGenericDayLong(c.Request.Context()); err != nil {
		return nil, toReason(err)
	}
	layout := a.storage.Layout()
	return gin.H{"standard": layout.GenericDayLong(false), "low": layout.GenericDayLong(true)}, nil
}

// storeInstance 上传一个实例文件
// 表单字段: file，start_ms（缺省时从文件名解析），kind（缺省时按格式推断）
func (a ResourceAPI) storeInstance(c *gin.Context) {
	res, err := a.resourceParam(c)
	if err != nil {
		web.Fail(c, err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		web.Fail(c, reason.ErrBadRequest.SetMsg("file is required"))
		return
	}
	inst, err := uploadedInstance(c, res, fh)
	if err != nil {
		web.Fail(c, err)
		return
	}

	tmp, err := a.saveUpload(c, fh)
	if err != nil {
		web.Fail(c, reason.ErrServer.SetMsg(err.Error()))
		return
	}
	defer os.Remove(tmp)
	if err := a.storage.PlaceFile(c.Request.Context(), inst, tmp); err != nil {
		web.Fail(c, toReason(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"kind":  inst.Kind.String(),
		"start": inst.Start,
		"path":  a.storage.Layout().InstancePath(res, inst),
	})
}

func uploadedInstance(c *gin.Context, res *resource.Resource, fh *multipart.FileHeader) (*instance.Instance, error) {
	format, err := instance.ParseFormat(c.DefaultPostForm("format", filepath.Ext(fh.Filename)))
	if err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}

	var start time.Time
	if v := c.PostForm("start_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, reason.ErrBadRequest.SetMsg("invalid start_ms")
		}
		start = time.UnixMilli(ms)
	} else if start, err = timewin.ExtractTimestamp(fh.Filename, res.Location); err != nil {
		return nil, reason.ErrBadRequest.SetMsg("start_ms is required when the file name has no timestamp")
	}

	kindName := c.PostForm("kind")
	if kindName == "" {
		return instance.New(res.Number, start, format, nil), nil
	}
	kind, err := instance.ParseKind(kindName)
	if err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}
	switch kind {
	case instance.KindImage:
		return instance.NewImage(res.Number, start, format, nil), nil
	case instance.KindHourVideo:
		return instance.NewHourVideo(res.Number, start, format, nil), nil
	case instance.KindStationReading:
		return instance.NewStationReading(res.Number, start, nil), nil
	}
	return nil, reason.ErrBadRequest.SetMsg("day videos must be uploaded as a pair")
}

// saveUpload 先落到存储根目录下的隐藏临时文件，保证与目标在同一文件系统
func (a ResourceAPI) saveUpload(c *gin.Context, fh *multipart.FileHeader) (string, error) {
	root := a.storage.Layout().Root
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	tmp := filepath.Join(root, ".upload-"+uuid.NewString()+filepath.Ext(fh.Filename))
	if err := c.SaveUploadedFile(fh, tmp); err != nil {
		return "", err
	}
	return tmp, nil
}

// storeDayLong 上传日视频对，表单字段: day，standard，low，segments
func (a ResourceAPI) storeDayLong(c *gin.Context) {
	res, err := a.resourceParam(c)
	if err != nil {
		web.Fail(c, err)
		return
	}
	day, err := time.ParseInLocation(time.DateOnly, c.PostForm("day"), res.Location)
	if err != nil {
		web.Fail(c, reason.ErrBadRequest.SetMsg("day must be formatted as 2006-01-02"))
		return
	}
	segments, _ := strconv.Atoi(c.PostForm("segments"))

	paths := make([]string, 0, 2)
	defer func() {
		for _, p := range paths {
			_ = os.Remove(p)
		}
	}()
	for _, field := range []string{"standard", "low"} {
		fh, err := c.FormFile(field)
		if err != nil {
			web.Fail(c, reason.ErrBadRequest.SetMsg(fmt.Sprintf("%s is required", field)))
			return
		}
		tmp, err := a.saveUpload(c, fh)
		if err != nil {
			web.Fail(c, reason.ErrServer.SetMsg(err.Error()))
			return
		}
		paths = append(paths, tmp)
	}

	if err := a.storage.PlaceDayLongFiles(c.Request.Context(), res.Number, day, paths[0], paths[1], segments); err != nil {
		web.Fail(c, toReason(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": day.Format(time.DateOnly)})
}

func readForm(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, reason.ErrBadRequest.SetMsg(fmt.Sprintf("%s is required", field))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, reason.ErrServer.SetMsg(err.Error())
	}
	defer f.Close()
	return io.ReadAll(f)
}

// storeDefault 设置白天或夜间默认图片，并生成对应的一小时填充视频
func (a ResourceAPI) storeDefault(daytime bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := a.resourceParam(c)
		if err != nil {
			web.Fail(c, err)
			return
		}
		image, err := readForm(c, "image")
		if err != nil {
			web.Fail(c, err)
			return
		}
		if err := a.storage.SetDefaultMediaErr(c.Request.Context(), res.Number, daytime, image); err != nil {
			web.Fail(c, toReason(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"video": a.storage.Layout().DefaultVideo(res, daytime)})
	}
}

func (a ResourceAPI) storeGenericNoData(c *gin.Context) {
	image, err := readForm(c, "image")
	if err != nil {
		web.Fail(c, err)
		return
	}
	if err := a.storage.SetGenericNoDataMediaErr(c.Request.Context(), image); err != nil {
		web.Fail(c, toReason(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"video": a.storage.Layout().GenericHour()})
}
