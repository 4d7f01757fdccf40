package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgUnexpectedErr = `發生未預期的錯誤：%s`
	MsgStartPrompt   = "傳送一張食物照片，我會估算它的熱量與營養成分。"
	MsgVersionInfo   = "版本：%s\n建置時間：%s"
	MsgHelp          = `
		*智能食物營養識別分析*

		傳送食物照片即可開始分析。結果下方的按鈕可以調整份量（25%% 至 200%%）。

		/history 查看最近的分析紀錄
		/clear 清除分析紀錄
		/mode 切換單次或多次取樣
		/ref 選擇照片中的參考物
		/apikey 設定自己的 API 金鑰
		/settings 查看目前設定
		/cancel 取消進行中的分析`
)

// =============================================================================
// Analysis messages
// =============================================================================

const (
	MsgAnalyzing            = "🔍 正在分析圖像..."
	MsgAnalyzingSamples     = "🔍 正在分析圖像（%d 次取樣）..."
	MsgAnalysisBusy         = "上一張照片仍在分析中，請稍候或用 /cancel 取消。"
	MsgAnalysisCancelled    = "已取消分析。"
	MsgNoAnalysisInProgress = "目前沒有進行中的分析。"
	MsgNotAnImage           = "這個檔案不是支援的圖片格式（JPEG、PNG、GIF、WebP）。"
	MsgImageTooLarge        = "圖片太大了，請傳送較小的照片。"
	MsgDownloadFailed       = "無法下載圖片，請再傳送一次。"
)

// Failure messages, one per recovery action
const (
	MsgNotFood           = "無法識別為食物，請試著上傳更清晰的食物照片。"
	MsgAuthFailed        = "API 金鑰無效或未設定。請用 /apikey 設定有效的金鑰。"
	MsgTransientError    = "暫時無法連線到分析服務，請稍後再試一次。"
	MsgMalformedResponse = "分析服務回傳了無法解讀的結果，請再試一次。"
	MsgAnalysisFailed    = "分析失敗：%s"
)

// =============================================================================
// Result messages
// =============================================================================

const (
	MsgResultGone       = "找不到這筆分析結果，可能已從紀錄中移除。"
	MsgHistorySaveError = "結果無法儲存到紀錄中，份量調整仍可使用。"
)

// =============================================================================
// History messages
// =============================================================================

const (
	MsgHistoryEmpty   = "目前沒有分析紀錄。"
	MsgHistoryHeader  = "*最近的分析紀錄*（共 %d 筆）\n點選下方按鈕重新查看。"
	MsgHistoryCleared = "🗑 已清除所有分析紀錄。"
)

// =============================================================================
// Settings messages
// =============================================================================

const (
	MsgSettings = `
		*目前設定*

		取樣模式：%s
		參考物：%s
		API 金鑰：%s`
	MsgModeSingle      = "單次取樣"
	MsgModeMulti       = "多次取樣（3 次平均）"
	MsgModePrompt      = "選擇取樣模式。多次取樣會分析三次後取平均，結果較穩定但較慢。"
	MsgModeUpdated     = "✅ 取樣模式：%s"
	MsgRefPrompt       = "選擇照片中與食物一起出現的參考物，可以幫助估算份量。"
	MsgRefUpdated      = "✅ 參考物：%s"
	MsgKeyOwn          = "已設定（自己的金鑰）"
	MsgKeyShared       = "使用預設金鑰"
	MsgAPIKeyUsage     = "用法：`/apikey <金鑰>` 設定，`/apikey clear` 移除。"
	MsgAPIKeySaved     = "✅ API 金鑰已儲存。為了安全，含有金鑰的訊息已刪除。"
	MsgAPIKeyCleared   = "🗑 已移除你的 API 金鑰。"
	MsgSettingsNoStore = "設定目前無法儲存。"
)

// =============================================================================
// Admin command messages
// =============================================================================

const (
	MsgAdminUsage           = "用法：\n`/admin users add <user_id>`\n`/admin users remove <user_id>`\n`/admin users list`"
	MsgAdminUserAddUsage    = "用法：`/admin users add <user_id>`"
	MsgAdminUserRemoveUsage = "用法：`/admin users remove <user_id>`"
	MsgAdminUserInvalidID   = "無效的使用者 ID，請輸入數字。"
	MsgAdminUserAdded       = "✅ 已新增使用者 `%d`。"
	MsgAdminUserRemoved     = "🗑 已移除使用者 `%d`。"
	MsgAdminNoUsers         = "沒有允許的使用者。"
	MsgAdminAllowedUsers    = "*允許的使用者：*\n"
)

// =============================================================================
// Button labels
// =============================================================================

const (
	BtnSingleSample = "單次取樣"
	BtnMultiSample  = "多次取樣"
	BtnSelected     = "✅ %s"
)
