package api

import (
	"fmt"
	"net/url"
	"time"

	"aichat/database"
	"aichat/models"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// ExportHandler 导出处理器
type ExportHandler struct{}

// NewExportHandler 创建导出处理器
func NewExportHandler() *ExportHandler {
	return &ExportHandler{}
}

// ExportChatExcel 导出聊天记录为Excel
// @Summary 导出AI聊天记录
// @Description 按时间范围导出问答历史记录为Excel文件，附带token汇总行
// @Tags 后台管理-AI聊天
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param start_time query string true "开始日期（2006-01-02）"
// @Param end_time query string true "结束日期（2006-01-02）"
// @Param user_id query int false "用户ID"
// @Success 200 {file} file "Excel文件"
// @Failure 400 {object} map[string]interface{} "时间格式错误"
// @Router /admin/ai-chat/export [get]
func (h *ExportHandler) ExportChatExcel(c *gin.Context) {
	startTime := c.Query("start_time")
	endTime := c.Query("end_time")
	if startTime == "" || endTime == "" {
		BadRequest(c, "开始时间和结束时间不能为空")
		return
	}

	start, err := time.ParseInLocation("2006-01-02", startTime, time.Local)
	if err != nil {
		BadRequest(c, "开始时间格式错误")
		return
	}
	end, err := time.ParseInLocation("2006-01-02", endTime, time.Local)
	if err != nil {
		BadRequest(c, "结束时间格式错误")
		return
	}
	end = end.Add(24*time.Hour - time.Second)

	// 查询数据
	type TransactionWithUser struct {
		models.TextTransaction
		Username string
	}

	var records []TransactionWithUser
	query := database.DB.Model(&models.TextTransaction{}).
		Select("text_transactions.*, users.username").
		Joins("LEFT JOIN users ON text_transactions.user_id = users.id").
		Where("text_transactions.created_at >= ? AND text_transactions.created_at <= ?", start, end)
	if uid := c.Query("user_id"); uid != "" {
		query = query.Where("text_transactions.user_id = ?", uid)
	}
	query.Order("text_transactions.created_at DESC").Scan(&records)

	// 创建 Excel 文件
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "聊天记录"
	f.SetSheetName("Sheet1", sheetName)

	// 设置表头样式
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4F81BD"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})

	// 数据样式
	dataStyle, _ := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})

	// 设置列宽
	f.SetColWidth(sheetName, "A", "A", 10)
	f.SetColWidth(sheetName, "B", "B", 15)
	f.SetColWidth(sheetName, "C", "C", 10)
	f.SetColWidth(sheetName, "D", "D", 40)
	f.SetColWidth(sheetName, "E", "E", 12)
	f.SetColWidth(sheetName, "F", "F", 50)
	f.SetColWidth(sheetName, "G", "G", 12)
	f.SetColWidth(sheetName, "H", "H", 20)

	// 写入表头
	headers := []string{"ID", "用户名", "来源", "问题", "问题Tokens", "回答", "回答Tokens", "时间"}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	// 写入数据
	var totalQuestionTokens, totalAnswerTokens int
	for i, record := range records {
		row := i + 2
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), record.ID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), record.Username)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), record.Consumer)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), record.Question)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), record.QuestionTokens)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), record.Answer)
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), record.AnswerTokens)
		f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), record.CreatedAt.Format("2006-01-02 15:04:05"))

		// 设置数据样式
		f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("H%d", row), dataStyle)
		totalQuestionTokens += record.QuestionTokens
		totalAnswerTokens += record.AnswerTokens
	}

	// 添加汇总行
	summaryRow := len(records) + 2
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"FFC000"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})

	f.SetCellValue(sheetName, fmt.Sprintf("A%d", summaryRow), "合计")
	f.MergeCell(sheetName, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("D%d", summaryRow))
	f.SetCellValue(sheetName, fmt.Sprintf("E%d", summaryRow), totalQuestionTokens)
	f.SetCellValue(sheetName, fmt.Sprintf("F%d", summaryRow), fmt.Sprintf("共 %d 条记录", len(records)))
	f.SetCellValue(sheetName, fmt.Sprintf("G%d", summaryRow), totalAnswerTokens)
	f.SetCellStyle(sheetName, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("H%d", summaryRow), summaryStyle)

	// 设置响应头
	filename := fmt.Sprintf("聊天记录_%s_%s.xlsx", startTime, endTime)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))

	// 写入响应
	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "生成 Excel 失败")
		return
	}
}
